package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/C4T-BuT-S4D/hokd/internal/bot"
	"github.com/C4T-BuT-S4D/hokd/internal/models"
	"github.com/C4T-BuT-S4D/hokd/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"
	"gopkg.in/telebot.v4"
)

const (
	msgProblemExpired = "❗ Время вашей проблемы истекло\n\n" +
		"Если вам всё ещё нужна помощь, пожалуйста, опишите вашу проблему ещё раз!"
	msgUsernameRemoved = "❗ Ваша проблема была закрыта из-за удаления имени пользователя"
)

var errSkip = errors.New("record changed since listing")

type Client interface {
	bot.Messenger
	GetChat(ctx context.Context, chatID int64) (*telebot.Chat, error)
}

// Monitor runs the periodic maintenance jobs. Each job runs at most once at a time.
type Monitor struct {
	storage *storage.Storage
	client  Client

	expiry    *semaphore.Weighted
	usernames *semaphore.Weighted
	wg        sync.WaitGroup
}

func New(storage *storage.Storage, client Client) *Monitor {
	return &Monitor{
		storage:   storage,
		client:    client,
		expiry:    semaphore.NewWeighted(1),
		usernames: semaphore.NewWeighted(1),
	}
}

// Trigger starts every job that is not already running and returns immediately.
func (m *Monitor) Trigger(ctx context.Context) {
	m.start(ctx, m.expiry, "expiry_sweeper", m.SweepExpired)
	m.start(ctx, m.usernames, "username_reconciler", m.ReconcileUsernames)
}

// Wait blocks until the running jobs finish.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) start(
	ctx context.Context,
	sem *semaphore.Weighted,
	name string,
	job func(ctx context.Context, logger *logrus.Entry) error,
) {
	if !sem.TryAcquire(1) {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer sem.Release(1)

		logger := logrus.WithField("component", name)
		var catcher panics.Catcher
		catcher.Try(func() {
			if err := job(ctx, logger); err != nil {
				if errors.Is(err, storage.ErrPersist) {
					logger.Fatalf("users document is not writable: %v", err)
				}
				if !errors.Is(err, context.Canceled) {
					logger.Errorf("job failed: %v", err)
				}
			}
		})
		if r := catcher.Recovered(); r != nil {
			logger.Errorf("job panicked: %s", r.String())
		}
	}()
}

func (m *Monitor) send(ctx context.Context, logger *logrus.Entry, chatID int64, text string) {
	if err := m.client.SendMessage(ctx, chatID, text, bot.MenuKeyboard(m.storage.HasProblem(chatID))); err != nil {
		logger.Warnf("failed to notify %d: %v", chatID, err)
	}
}

// closeProblem removes the problem if the record still satisfies check.
func (m *Monitor) closeProblem(ctx context.Context, chatID int64, check func(u *models.User) bool) (bool, error) {
	err := m.storage.Update(ctx, chatID, func(u *models.User) error {
		if !check(u) {
			return errSkip
		}
		u.Problem = nil
		u.ProblemPendingState = true
		return nil
	})
	switch {
	case errors.Is(err, errSkip):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("closing problem of %d: %w", chatID, err)
	}
	return true, nil
}

// SweepExpired closes approved problems that outlived the retention window.
func (m *Monitor) SweepExpired(ctx context.Context, logger *logrus.Entry) error {
	ids := m.storage.ListExpiredProblemChatIDs()
	if len(ids) == 0 {
		logger.Debug("no expired problems")
		return nil
	}

	for _, chatID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		itemCtx := context.WithoutCancel(ctx)

		closed, err := m.closeProblem(itemCtx, chatID, m.storage.IsExpired)
		if err != nil {
			return err
		}
		if !closed {
			continue
		}

		logger.Infof("problem of %d expired and was closed", chatID)
		m.send(itemCtx, logger, chatID, msgProblemExpired)
	}
	return nil
}

// ReconcileUsernames keeps the author of every published problem in sync with the
// chat's current username. Problems of chats that dropped their username are closed.
func (m *Monitor) ReconcileUsernames(ctx context.Context, logger *logrus.Entry) error {
	published := func(u *models.User) bool {
		return u.HasProblem() && !u.ProblemPendingState && !u.AccountBanState
	}

	for _, entry := range m.storage.ListProblems(storage.ProblemFilter{Pending: false, Banned: false}) {
		if err := ctx.Err(); err != nil {
			return err
		}

		chat, err := m.client.GetChat(ctx, entry.ChatID)
		if err == nil && chat == nil {
			err = errors.New("empty result")
		}
		if err != nil {
			logger.Warnf("failed to get chat %d: %v", entry.ChatID, err)
			continue
		}
		itemCtx := context.WithoutCancel(ctx)

		switch {
		case chat.Username == "":
			closed, err := m.closeProblem(itemCtx, entry.ChatID, published)
			if err != nil {
				return err
			}
			if !closed {
				continue
			}
			logger.Infof("user %d removed username %q, problem was closed", entry.ChatID, entry.Username)
			m.send(itemCtx, logger, entry.ChatID, msgUsernameRemoved)

		case chat.Username != entry.Username:
			modified, err := m.storage.ModifyProblem(itemCtx, entry.ChatID, chat.Username)
			if err != nil {
				return err
			}
			if modified {
				logger.Infof("user %d changed username from %q to %q", entry.ChatID, entry.Username, chat.Username)
			}
		}
	}
	return nil
}
