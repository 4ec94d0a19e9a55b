package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/C4T-BuT-S4D/hokd/internal/models"
	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"
)

// ErrPersist is returned when the users document could not be written.
// The in-memory state is rolled back, but the process should not go on.
var ErrPersist = errors.New("persisting users document")

var errUnchanged = errors.New("record unchanged")

type ProblemFilter struct {
	Pending bool
	Banned  bool
}

type Storage struct {
	mu       sync.RWMutex
	path     string
	lifetime time.Duration
	now      func() time.Time

	users map[int64]*models.User
	order []int64
}

type Option func(*Storage)

func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

// Load reads the users document at path. A missing document is created empty.
func Load(path string, lifetime time.Duration, opts ...Option) (*Storage, error) {
	s := &Storage{
		path:     path,
		lifetime: lifetime,
		now:      time.Now,
		users:    make(map[int64]*models.User),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logrus.Infof("users document %s does not exist, creating", path)
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading users document: %w", err)
	}

	if err := s.decode(data); err != nil {
		return nil, fmt.Errorf("parsing users document %s: %w", path, err)
	}
	return s, nil
}

func (s *Storage) decode(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading document start: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("document is not an object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("reading key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}
		chatID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing chat id %q: %w", key, err)
		}

		user := models.NewUser()
		if err := dec.Decode(user); err != nil {
			return fmt.Errorf("decoding user %d: %w", chatID, err)
		}
		if user.Problem != nil && user.Problem.Username == "" {
			username, _, err := models.ParseProblemText(user.Problem.Text)
			if err != nil {
				return fmt.Errorf("user %d: %w", chatID, err)
			}
			user.Problem.Username = username
		}

		if _, seen := s.users[chatID]; !seen {
			s.order = append(s.order, chatID)
		}
		s.users[chatID] = user
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("reading document end: %w", err)
	}
	return nil
}

func (s *Storage) encodeLocked() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, chatID := range s.order {
		raw, err := json.MarshalIndent(s.users[chatID], "\t", "\t")
		if err != nil {
			return nil, fmt.Errorf("marshalling user %d: %w", chatID, err)
		}
		fmt.Fprintf(&buf, "\t%q: ", strconv.FormatInt(chatID, 10))
		buf.Write(raw)
		if i+1 != len(s.order) {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func (s *Storage) persistLocked() error {
	data, err := s.encodeLocked()
	if err != nil {
		return errors.Join(ErrPersist, err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return errors.Join(ErrPersist, fmt.Errorf("writing %s: %w", s.path, err))
	}
	return nil
}

// Update applies fn to the record of chatID and writes the document through.
// A record is created for unknown chats. If fn returns an error or the write
// fails, the record is left untouched.
func (s *Storage) Update(ctx context.Context, chatID int64, fn func(u *models.User) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.users[chatID]
	var user *models.User
	if existed {
		user = prev.Clone()
	} else {
		user = models.NewUser()
	}

	if err := fn(user); err != nil {
		return err
	}

	s.users[chatID] = user
	if !existed {
		s.order = append(s.order, chatID)
	}

	if err := s.persistLocked(); err != nil {
		if existed {
			s.users[chatID] = prev
		} else {
			delete(s.users, chatID)
			s.order = s.order[:len(s.order)-1]
		}
		return err
	}
	return nil
}

// GetOrCreateUser returns a copy of the record, creating the default one on first contact.
func (s *Storage) GetOrCreateUser(ctx context.Context, chatID int64) (*models.User, error) {
	if user, ok := s.GetUser(chatID); ok {
		return user, nil
	}

	var result *models.User
	if err := s.Update(ctx, chatID, func(u *models.User) error {
		result = u.Clone()
		return nil
	}); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return result, nil
}

// GetUser returns a copy of the record. Unknown chats yield the default record and false.
func (s *Storage) GetUser(chatID int64) (*models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[chatID]
	if !ok {
		return models.NewUser(), false
	}
	return user.Clone(), true
}

func (s *Storage) HasUser(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[chatID]
	return ok
}

func (s *Storage) GetState(chatID int64, flag models.Flag) bool {
	user, _ := s.GetUser(chatID)
	return user.Flag(flag)
}

func (s *Storage) HasProblem(chatID int64) bool {
	user, _ := s.GetUser(chatID)
	return user.HasProblem()
}

func (s *Storage) SetState(ctx context.Context, chatID int64, flag models.Flag, value bool) error {
	if err := s.Update(ctx, chatID, func(u *models.User) error {
		u.SetFlag(flag, value)
		return nil
	}); err != nil {
		return fmt.Errorf("setting %v of %d: %w", flag, chatID, err)
	}
	return nil
}

// SetProblem stores a problem, stamping it with the current time when useExpiry is set.
func (s *Storage) SetProblem(ctx context.Context, chatID int64, username, body string, useExpiry bool) error {
	if err := s.Update(ctx, chatID, func(u *models.User) error {
		u.Problem = s.NewProblem(username, body, useExpiry)
		return nil
	}); err != nil {
		return fmt.Errorf("setting problem of %d: %w", chatID, err)
	}
	return nil
}

// NewProblem builds a problem the way SetProblem does, for use inside Update.
func (s *Storage) NewProblem(username, body string, useExpiry bool) *models.Problem {
	var createdAt int64
	if useExpiry {
		createdAt = s.now().Unix()
	}
	return models.NewProblem(createdAt, username, body)
}

func (s *Storage) UnsetProblem(ctx context.Context, chatID int64) error {
	if err := s.Update(ctx, chatID, func(u *models.User) error {
		u.Problem = nil
		return nil
	}); err != nil {
		return fmt.Errorf("unsetting problem of %d: %w", chatID, err)
	}
	return nil
}

// ModifyProblem rewrites the author of the problem keeping its body and timestamp.
// It reports false if the chat has no problem anymore.
func (s *Storage) ModifyProblem(ctx context.Context, chatID int64, username string) (bool, error) {
	err := s.Update(ctx, chatID, func(u *models.User) error {
		if u.Problem == nil {
			return errUnchanged
		}
		u.Problem = models.NewProblem(u.Problem.CreatedAt, username, u.Problem.Body())
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("modifying problem of %d: %w", chatID, err)
	}
	return true, nil
}

// ListProblems returns problems of users whose pending and ban flags match the filter exactly,
// in document order.
func (s *Storage) ListProblems(filter ProblemFilter) []models.ProblemEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.ProblemEntry
	for _, chatID := range s.order {
		user := s.users[chatID]
		if user.Problem == nil ||
			user.ProblemPendingState != filter.Pending ||
			user.AccountBanState != filter.Banned {
			continue
		}
		result = append(result, models.ProblemEntry{
			ChatID:   chatID,
			Username: user.Problem.Username,
			Body:     user.Problem.Body(),
			Text:     user.Problem.Text,
		})
	}
	return result
}

// IsExpired reports whether an approved, stamped problem outlived the retention window.
func (s *Storage) IsExpired(user *models.User) bool {
	if user.Problem == nil ||
		user.ProblemPendingState ||
		user.AccountBanState ||
		user.Problem.CreatedAt == 0 {
		return false
	}
	return s.now().Unix()-user.Problem.CreatedAt > int64(s.lifetime/time.Second)
}

func (s *Storage) ListExpiredProblemChatIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []int64
	for _, chatID := range s.order {
		if s.IsExpired(s.users[chatID]) {
			result = append(result, chatID)
		}
	}
	return result
}
