package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/C4T-BuT-S4D/hokd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v4"
)

type step struct {
	updates []telebot.Update
	err     error
}

type scriptedSource struct {
	mu      sync.Mutex
	steps   []step
	offsets []int
}

func (s *scriptedSource) GetUpdates(ctx context.Context, offset int, _ time.Duration) ([]telebot.Update, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()
	return st.updates, st.err
}

func (s *scriptedSource) seenOffsets() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.offsets...)
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []models.InboundMessage
}

func (h *recordingHandler) Handle(_ context.Context, msg models.InboundMessage) error {
	if msg.Text == "boom" {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	if msg.Text == "fail" {
		return errors.New("failed")
	}
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func textUpdate(id int, chatID int64, text string) telebot.Update {
	return telebot.Update{
		ID: id,
		Message: &telebot.Message{
			Chat: &telebot.Chat{ID: chatID, Username: "user"},
			Text: text,
		},
	}
}

func runPoller(t *testing.T, p *Poller) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()
	return cancel, done
}

func TestPoller_AdvancesOffsetAndDispatches(t *testing.T) {
	source := &scriptedSource{steps: []step{
		{updates: []telebot.Update{textUpdate(10, 1, "a"), {ID: 11}, textUpdate(12, 2, "b")}},
		{err: errors.New("network down")},
		{updates: []telebot.Update{textUpdate(13, 3, "fail"), textUpdate(14, 4, "")}},
	}}
	handler := &recordingHandler{}
	var iterations atomic.Int32

	p := New(Config{
		Timeout:     time.Second,
		ErrorDelay:  time.Millisecond,
		Workers:     4,
		OnIteration: func(context.Context) { iterations.Add(1) },
	}, source, handler)

	cancel, done := runPoller(t, p)
	require.Eventually(t, func() bool {
		return handler.count() == 4 && len(source.seenOffsets()) == 4
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int{0, 13, 13, 15}, source.seenOffsets())
	assert.Equal(t, 15, p.Offset())
	assert.EqualValues(t, 4, iterations.Load())

	byChat := map[int64]models.InboundMessage{}
	for _, m := range handler.messages {
		byChat[m.ChatID] = m
	}
	assert.Equal(t, models.InboundMessage{UpdateID: 10, ChatID: 1, Username: "user", Text: "a", HasText: true}, byChat[1])
	assert.False(t, byChat[4].HasText)
}

func TestPoller_SurvivesPanics(t *testing.T) {
	source := &scriptedSource{steps: []step{
		{updates: []telebot.Update{textUpdate(1, 1, "boom"), textUpdate(2, 2, "ok")}},
		{updates: []telebot.Update{textUpdate(3, 3, "after")}},
	}}
	handler := &recordingHandler{}

	p := New(Config{Timeout: time.Second, ErrorDelay: time.Millisecond, Workers: 1}, source, handler)
	cancel, done := runPoller(t, p)
	require.Eventually(t, func() bool { return handler.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 4, p.Offset())
}

type slowHandler struct {
	finished atomic.Int32
}

func (h *slowHandler) Handle(context.Context, models.InboundMessage) error {
	time.Sleep(50 * time.Millisecond)
	h.finished.Add(1)
	return nil
}

func TestPoller_WaitsForHandlersOnShutdown(t *testing.T) {
	source := &scriptedSource{steps: []step{
		{updates: []telebot.Update{textUpdate(1, 1, "a"), textUpdate(2, 2, "b"), textUpdate(3, 3, "c")}},
	}}
	handler := &slowHandler{}

	p := New(Config{Timeout: time.Second, Workers: 2}, source, handler)
	cancel, done := runPoller(t, p)
	require.Eventually(t, func() bool { return len(source.seenOffsets()) == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 3, handler.finished.Load())
}
