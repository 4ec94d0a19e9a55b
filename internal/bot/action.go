package bot

import (
	"errors"
	"strconv"
	"strings"
)

// Command is a text the bot reacts to. Menu buttons send their label as text,
// so labels are commands as well.
type Command string

const (
	CommandHelpSomeone  Command = emojiSearch + " Помочь кому-нибудь"
	CommandHelpMe       Command = emojiAttention + " Мне нужна помощь"
	CommandCloseProblem Command = emojiOK + " Моя проблема решена"
	CommandStart        Command = "/start"
	CommandPendingList  Command = "/pendinglist"
	CommandConfirm      Command = "/confirm"
	CommandDecline      Command = "/decline"
	CommandBanList      Command = "/banlist"
	CommandBan          Command = "/ban"
	CommandUnban        Command = "/unban"
	CommandCancel       Command = "/cancel"
)

func (c Command) String() string {
	return string(c)
}

func (c Command) Matches(text string) bool {
	return text == string(c)
}

// CutPrefix reports whether text starts with the command and returns the remainder.
func (c Command) CutPrefix(text string) (string, bool) {
	return strings.CutPrefix(text, string(c))
}

var (
	errNoTarget  = errors.New("chat id is not specified")
	errBadTarget = errors.New("chat id is malformed")
)

// parseChatID parses the argument of an administrative command.
func parseChatID(arg string) (int64, error) {
	arg = strings.TrimLeft(arg, " ")
	if arg == "" {
		return 0, errNoTarget
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errBadTarget
	}
	return id, nil
}
