package api

import (
	"net/http"
	"time"

	"github.com/C4T-BuT-S4D/hokd/internal/storage"
	"github.com/labstack/echo/v4"
)

type Service struct {
	storage   *storage.Storage
	version   string
	startedAt time.Time
}

// NewService creates the status service. A nil storage means the daemon runs in maintenance mode.
func NewService(storage *storage.Storage, version string) *Service {
	return &Service{
		storage:   storage,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *Service) Register(e *echo.Echo) {
	e.GET("/healthz", s.HandleHealth())
	e.GET("/problems", s.HandleProblems())
}

func (s *Service) mode() string {
	if s.storage == nil {
		return "maintenance"
	}
	return "default"
}

func (s *Service) HandleHealth() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":     "ok",
			"mode":       s.mode(),
			"version":    s.version,
			"started_at": s.startedAt.UTC().Format(time.RFC3339),
		})
	}
}

// HandleProblems lists published problems the way an ordinary user sees them.
func (s *Service) HandleProblems() echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.storage == nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "bot is under maintenance"})
		}

		problems := s.storage.ListProblems(storage.ProblemFilter{Pending: false, Banned: false})
		texts := make([]string, 0, len(problems))
		for _, p := range problems {
			texts = append(texts, p.Format(false))
		}
		return c.JSON(http.StatusOK, echo.Map{"problems": texts})
	}
}
