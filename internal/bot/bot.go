package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/C4T-BuT-S4D/hokd/internal/config"
	"github.com/C4T-BuT-S4D/hokd/internal/models"
	"github.com/C4T-BuT-S4D/hokd/internal/storage"
	"github.com/looplab/fsm"
	"gopkg.in/telebot.v4"
)

type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telebot.ReplyMarkup) error
}

type Bot struct {
	config  *config.Config
	storage *storage.Storage
	sender  Messenger
}

func New(cfg *config.Config, storage *storage.Storage, sender Messenger) *Bot {
	return &Bot{
		config:  cfg,
		storage: storage,
		sender:  sender,
	}
}

// Handle processes one inbound message. Shutdown of the caller's context does not
// interrupt a message that is already being handled.
func (b *Bot) Handle(ctx context.Context, msg models.InboundMessage) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.BotHandleTimeout)
	defer cancel()

	uc := NewUpdateContext(ctx, msg, msg.ChatID == b.config.AdminChatID)
	uc.L().Debugf("received message has_text=%v", msg.HasText)

	if err := b.HandleMessage(uc); err != nil {
		if errors.Is(err, storage.ErrPersist) {
			uc.L().Fatalf("users document is not writable: %v", err)
		}
		return fmt.Errorf("handling message: %w", err)
	}
	return nil
}

// errStaleState aborts a transition whose conversation was moved on by a concurrent
// message of the same chat.
var errStaleState = errors.New("conversation state changed concurrently")

const maxDispatchAttempts = 3

// HandleMessage dispatches the message on the current conversation state. A message
// that lost a race for the state is dispatched again on the fresh one.
func (b *Bot) HandleMessage(uc *UpdateContext) error {
	for attempt := 1; ; attempt++ {
		err := b.dispatch(uc)
		if !errors.Is(err, errStaleState) || attempt == maxDispatchAttempts {
			return err
		}
		uc.L().Debugf("conversation state changed, dispatching again (attempt %d)", attempt)
	}
}

func (b *Bot) dispatch(uc *UpdateContext) error {
	user, err := b.storage.GetOrCreateUser(uc, uc.ChatID())
	if err != nil {
		return fmt.Errorf("getting user: %w", err)
	}

	if user.AccountBanState {
		if !uc.IsAdmin() {
			uc.L().Infof("ignoring message from banned user")
			b.send(uc, uc.ChatID(), msgBanned, nil)
			return nil
		}
		uc.L().Warnf("administrator account was banned, lifting the ban")
		if err := b.storage.SetState(uc, uc.ChatID(), models.FlagBan, false); err != nil {
			return fmt.Errorf("unbanning administrator: %w", err)
		}
	}

	conv := newConversation(user.State())
	if conv.Is(models.ChatStateDescribing.String()) {
		return b.handleProblem(uc, conv)
	}
	return b.handleCommand(uc, conv)
}

// send delivers a reply. The client bounds every call itself, so a slow reply does not
// eat into the budget of the ones after it.
func (b *Bot) send(uc *UpdateContext, chatID int64, text string, markup *telebot.ReplyMarkup) {
	if err := b.sender.SendMessage(context.WithoutCancel(uc), chatID, text, markup); err != nil {
		uc.L().Warnf("failed to send message to %d: %v", chatID, err)
	}
}

func (b *Bot) currentKeyboard(chatID int64) *telebot.ReplyMarkup {
	return MenuKeyboard(b.storage.HasProblem(chatID))
}

// rejection aborts a store update and is answered with its text.
type rejection struct {
	reply string
}

func (r *rejection) Error() string {
	return r.reply
}

func reject(reply string) error {
	return &rejection{reply: reply}
}

// apply runs fn against the record of chatID atomically. A rejection from fn is
// sent to the current chat and reported as false.
func (b *Bot) apply(uc *UpdateContext, chatID int64, fn func(u *models.User) error) (bool, error) {
	err := b.storage.Update(uc, chatID, fn)
	var rej *rejection
	switch {
	case errors.As(err, &rej):
		b.send(uc, uc.ChatID(), rej.reply, nil)
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// transition fires event on the conversation and stores the resulting state together
// with whatever fn changes. It reports false if fn rejected the change. errStaleState
// is returned when the stored state no longer matches the conversation.
func (b *Bot) transition(uc *UpdateContext, conv *fsm.FSM, event string, fn func(u *models.User) error) (bool, error) {
	from := conv.Current()
	if err := conv.Event(uc, event); err != nil {
		return false, fmt.Errorf("conversation event %s: %w", event, err)
	}
	describing := conv.Is(models.ChatStateDescribing.String())

	ok, err := b.apply(uc, uc.ChatID(), func(u *models.User) error {
		if u.State().String() != from {
			return errStaleState
		}
		u.ProblemDescriptionState = describing
		if fn != nil {
			return fn(u)
		}
		return nil
	})
	switch {
	case errors.Is(err, errStaleState):
		return false, err
	case err != nil:
		return false, fmt.Errorf("storing conversation state: %w", err)
	case !ok:
		return false, nil
	}

	uc.L().Debugf("conversation %s -> %s on %s", from, conv.Current(), event)
	return true, nil
}

func (b *Bot) handleProblem(uc *UpdateContext, conv *fsm.FSM) error {
	msg := uc.Message()

	switch {
	case !msg.HasText:
		b.send(uc, uc.ChatID(), msgTextOnly, nil)
		return nil

	case CommandCancel.Matches(msg.Text):
		if _, err := b.transition(uc, conv, eventAbort, nil); err != nil {
			return err
		}
		b.send(uc, uc.ChatID(), msgDescribeCancelled, b.currentKeyboard(uc.ChatID()))
		return nil

	case msg.Username == "":
		if _, err := b.transition(uc, conv, eventAbort, nil); err != nil {
			return err
		}
		b.send(uc, uc.ChatID(), msgNeedUsername, b.currentKeyboard(uc.ChatID()))
		return nil

	case len(msg.Text) > b.config.MaxProblemSize:
		b.send(uc, uc.ChatID(), msgProblemTooBig, nil)
		return nil
	}

	// Administrator problems skip moderation and never expire.
	moderated := !uc.IsAdmin()
	if _, err := b.transition(uc, conv, eventSubmit, func(u *models.User) error {
		u.Problem = b.storage.NewProblem(msg.Username, msg.Text, moderated)
		u.ProblemPendingState = moderated
		return nil
	}); err != nil {
		return err
	}

	uc.L().Infof("user created problem %q", msg.Text)

	keyboard := b.currentKeyboard(uc.ChatID())
	if !moderated {
		b.send(uc, uc.ChatID(), msgProblemSaved, keyboard)
		return nil
	}
	b.send(uc, uc.ChatID(), msgProblemOnReview, keyboard)
	b.send(uc, b.config.AdminChatID, msgNewProblemForReview, nil)
	return nil
}

func (b *Bot) handleCommand(uc *UpdateContext, conv *fsm.FSM) error {
	msg := uc.Message()
	if !msg.HasText {
		b.send(uc, uc.ChatID(), msgTextOnly, nil)
		return nil
	}
	text := msg.Text

	switch {
	case CommandHelpSomeone.Matches(text):
		return b.handleHelpSomeone(uc)
	case CommandHelpMe.Matches(text):
		return b.handleHelpMe(uc, conv)
	case CommandCloseProblem.Matches(text):
		return b.handleCloseProblem(uc)
	case CommandStart.Matches(text):
		return b.handleStart(uc)
	case CommandPendingList.Matches(text):
		return b.adminOnly(uc, func() error { return b.handlePendingList(uc) })
	}

	if arg, ok := CommandConfirm.CutPrefix(text); ok {
		return b.adminOnly(uc, func() error { return b.handleConfirm(uc, arg) })
	}
	if arg, ok := CommandDecline.CutPrefix(text); ok {
		return b.adminOnly(uc, func() error { return b.handleDecline(uc, arg) })
	}
	// Checked before the ban prefix, which it shares.
	if CommandBanList.Matches(text) {
		return b.adminOnly(uc, func() error { return b.handleBanList(uc) })
	}
	if arg, ok := CommandBan.CutPrefix(text); ok {
		return b.adminOnly(uc, func() error { return b.handleBan(uc, arg) })
	}
	if arg, ok := CommandUnban.CutPrefix(text); ok {
		return b.adminOnly(uc, func() error { return b.handleUnban(uc, arg) })
	}

	if CommandCancel.Matches(text) {
		b.send(uc, uc.ChatID(), msgNotDescribing, nil)
		return nil
	}

	b.send(uc, uc.ChatID(), msgUnknown, nil)
	return nil
}

func (b *Bot) adminOnly(uc *UpdateContext, handler func() error) error {
	if !uc.IsAdmin() {
		uc.L().Infof("rejecting administrative command")
		b.send(uc, uc.ChatID(), msgNoRights, nil)
		return nil
	}
	return handler()
}

func (b *Bot) sendProblems(uc *UpdateContext, problems []models.ProblemEntry, includeIDs bool, emptyText string) {
	if len(problems) == 0 {
		b.send(uc, uc.ChatID(), emptyText, nil)
		return
	}
	for i, p := range problems {
		markup := RemoveKeyboard()
		if i+1 == len(problems) {
			markup = b.currentKeyboard(uc.ChatID())
		}
		b.send(uc, uc.ChatID(), p.Format(includeIDs), markup)
	}
}

func (b *Bot) handleHelpSomeone(uc *UpdateContext) error {
	problems := b.storage.ListProblems(storage.ProblemFilter{Pending: false, Banned: false})
	b.sendProblems(uc, problems, uc.IsAdmin(), msgNobodyNeedsHelp)
	return nil
}

func (b *Bot) handleHelpMe(uc *UpdateContext, conv *fsm.FSM) error {
	switch {
	case b.storage.HasProblem(uc.ChatID()):
		b.send(uc, uc.ChatID(), msgAlreadyDescribed, nil)
		return nil
	case uc.Message().Username == "":
		b.send(uc, uc.ChatID(), msgNeedUsername, nil)
		return nil
	}

	ok, err := b.transition(uc, conv, eventDescribe, func(u *models.User) error {
		if u.HasProblem() {
			return reject(msgAlreadyDescribed)
		}
		return nil
	})
	if err != nil || !ok {
		return err
	}
	b.send(uc, uc.ChatID(), msgDescribe, RemoveKeyboard())
	return nil
}

func (b *Bot) handleCloseProblem(uc *UpdateContext) error {
	ok, err := b.apply(uc, uc.ChatID(), func(u *models.User) error {
		switch {
		case !u.HasProblem():
			return reject(msgNothingToClose)
		case u.ProblemPendingState:
			return reject(msgCloseWhilePending)
		}
		u.Problem = nil
		u.ProblemPendingState = true
		return nil
	})
	if err != nil || !ok {
		return err
	}

	uc.L().Infof("user closed problem")
	b.send(uc, uc.ChatID(), msgProblemClosed, b.currentKeyboard(uc.ChatID()))
	return nil
}

func (b *Bot) handleStart(uc *UpdateContext) error {
	b.send(uc, uc.ChatID(), greeting(uc.Message().Username), b.currentKeyboard(uc.ChatID()))
	if uc.IsAdmin() {
		b.send(uc, uc.ChatID(), msgAdminReference, nil)
	}
	return nil
}

func (b *Bot) handlePendingList(uc *UpdateContext) error {
	problems := b.storage.ListProblems(storage.ProblemFilter{Pending: true, Banned: false})
	b.sendProblems(uc, problems, true, msgNoPendingProblems)
	return nil
}

func (b *Bot) handleBanList(uc *UpdateContext) error {
	problems := b.storage.ListProblems(storage.ProblemFilter{Pending: false, Banned: true})
	b.sendProblems(uc, problems, true, msgNoBannedProblems)
	return nil
}

// target parses the chat id argument, answering malformed input itself.
func (b *Bot) target(uc *UpdateContext, arg, purpose string) (int64, bool) {
	id, err := parseChatID(arg)
	switch {
	case errors.Is(err, errNoTarget):
		b.send(uc, uc.ChatID(), fmt.Sprintf(msgNoTarget, purpose), nil)
		return 0, false
	case err != nil:
		b.send(uc, uc.ChatID(), fmt.Sprintf(msgBadTarget, purpose), nil)
		return 0, false
	}
	return id, true
}

func (b *Bot) handleConfirm(uc *UpdateContext, arg string) error {
	target, ok := b.target(uc, arg, "одобрения проблемы")
	if !ok {
		return nil
	}

	ok, err := b.apply(uc, target, func(u *models.User) error {
		switch {
		case !u.HasProblem():
			return reject(msgConfirmNoProblem)
		case !u.ProblemPendingState:
			return reject(msgAlreadyConfirmed)
		}
		u.ProblemPendingState = false
		return nil
	})
	if err != nil || !ok {
		return err
	}

	uc.L().Infof("confirmed problem of %d", target)
	days := int(b.config.ProblemLifetime / (24 * time.Hour))
	b.send(uc, target, fmt.Sprintf(msgConfirmedUser, Days(days)), nil)
	b.send(uc, uc.ChatID(), msgConfirmedAdmin, nil)
	return nil
}

func (b *Bot) handleDecline(uc *UpdateContext, arg string) error {
	target, ok := b.target(uc, arg, "отклонения проблемы")
	if !ok {
		return nil
	}

	ok, err := b.apply(uc, target, func(u *models.User) error {
		switch {
		case !u.HasProblem():
			return reject(msgDeclineNoProblem)
		case !u.ProblemPendingState:
			return reject(msgDeclineConfirmed)
		}
		u.Problem = nil
		return nil
	})
	if err != nil || !ok {
		return err
	}

	uc.L().Infof("declined problem of %d", target)
	b.send(uc, target, msgDeclinedUser, b.currentKeyboard(target))
	b.send(uc, uc.ChatID(), msgDeclinedAdmin, nil)
	return nil
}

func (b *Bot) handleBan(uc *UpdateContext, arg string) error {
	target, ok := b.target(uc, arg, "блокировки пользователя")
	if !ok {
		return nil
	}
	if target == b.config.AdminChatID {
		b.send(uc, uc.ChatID(), msgBanSelf, nil)
		return nil
	}

	ok, err := b.apply(uc, target, func(u *models.User) error {
		switch {
		case u.AccountBanState:
			return reject(msgAlreadyBanned)
		case !u.HasProblem():
			return reject(msgBanNoProblem)
		}
		u.AccountBanState = true
		u.ProblemPendingState = false
		return nil
	})
	if err != nil || !ok {
		return err
	}

	uc.L().Infof("banned user %d", target)
	b.send(uc, target, msgBannedUser, nil)
	b.send(uc, uc.ChatID(), msgBannedAdmin, nil)
	return nil
}

func (b *Bot) handleUnban(uc *UpdateContext, arg string) error {
	target, ok := b.target(uc, arg, "разблокировки пользователя")
	if !ok {
		return nil
	}

	ok, err := b.apply(uc, target, func(u *models.User) error {
		if !u.AccountBanState {
			return reject(msgNotBanned)
		}
		u.Problem = nil
		u.ProblemPendingState = true
		u.AccountBanState = false
		return nil
	})
	if err != nil || !ok {
		return err
	}

	uc.L().Infof("unbanned user %d", target)
	b.send(uc, target, msgUnbannedUser, b.currentKeyboard(target))
	b.send(uc, uc.ChatID(), msgUnbannedAdmin, nil)
	return nil
}
