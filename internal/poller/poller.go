package poller

import (
	"context"
	"time"

	"github.com/C4T-BuT-S4D/hokd/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"gopkg.in/telebot.v4"
)

type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]telebot.Update, error)
}

type Handler interface {
	Handle(ctx context.Context, msg models.InboundMessage) error
}

type Config struct {
	Timeout    time.Duration
	ErrorDelay time.Duration
	Workers    int
	// OnIteration runs before every poll.
	OnIteration func(ctx context.Context)
}

type Poller struct {
	config  Config
	source  UpdateSource
	handler Handler
	offset  int
	logger  *logrus.Entry
}

func New(cfg Config, source UpdateSource, handler Handler) *Poller {
	return &Poller{
		config:  cfg,
		source:  source,
		handler: handler,
		logger:  logrus.WithField("component", "poller"),
	}
}

// Offset is the id of the next update to be requested.
func (p *Poller) Offset() int {
	return p.offset
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
func (p *Poller) Run(ctx context.Context) error {
	workers := pool.New().WithMaxGoroutines(p.config.Workers)
	defer workers.Wait()

	p.logger.Infof("polling updates with %d workers", p.config.Workers)

	for {
		if ctx.Err() != nil {
			p.logger.Info("stopping, waiting for handlers to finish")
			return nil
		}

		if p.config.OnIteration != nil {
			p.config.OnIteration(ctx)
		}

		updates, err := p.source.GetUpdates(ctx, p.offset, p.config.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Errorf("failed to get updates: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.config.ErrorDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.ID >= p.offset {
				p.offset = update.ID + 1
			}

			msg, ok := inboundMessage(update)
			if !ok {
				p.logger.Debugf("skipping update %d without message", update.ID)
				continue
			}

			workers.Go(func() {
				p.dispatch(ctx, msg)
			})
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, msg models.InboundMessage) {
	var catcher panics.Catcher
	catcher.Try(func() {
		if err := p.handler.Handle(ctx, msg); err != nil {
			p.logger.Errorf("failed to handle %v: %v", msg, err)
		}
	})
	if r := catcher.Recovered(); r != nil {
		p.logger.Errorf("handler panicked on %v: %s", msg, r.String())
	}
}

func inboundMessage(update telebot.Update) (models.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return models.InboundMessage{}, false
	}
	return models.InboundMessage{
		UpdateID: update.ID,
		ChatID:   m.Chat.ID,
		Username: m.Chat.Username,
		Text:     m.Text,
		HasText:  m.Text != "",
	}, true
}
