package models

import (
	"fmt"
)

// InboundMessage is the part of an incoming update the bot acts upon.
// It is a plain value so every handler works on its own copy.
type InboundMessage struct {
	UpdateID int
	ChatID   int64
	Username string
	Text     string
	HasText  bool
}

func (m InboundMessage) String() string {
	return fmt.Sprintf("InboundMessage(%d, %d, %q)", m.UpdateID, m.ChatID, m.Username)
}

type ProblemEntry struct {
	ChatID   int64
	Username string
	Body     string
	// Text is the stored "@username: body" form shown to users.
	Text string
}

func (e ProblemEntry) Format(includeIDs bool) string {
	if includeIDs {
		return fmt.Sprintf("(%d) %s", e.ChatID, e.Text)
	}
	return e.Text
}

func (e ProblemEntry) String() string {
	return e.Format(true)
}
