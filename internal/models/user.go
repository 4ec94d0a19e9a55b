package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Flag int

const (
	FlagBan Flag = iota
	FlagPendingProblem
	FlagDescribingProblem
)

func (f Flag) String() string {
	switch f {
	case FlagBan:
		return "account_ban_state"
	case FlagPendingProblem:
		return "problem_pending_state"
	case FlagDescribingProblem:
		return "problem_description_state"
	default:
		return fmt.Sprintf("Flag(%d)", int(f))
	}
}

type User struct {
	AccountBanState         bool     `json:"account_ban_state"`
	ProblemPendingState     bool     `json:"problem_pending_state"`
	ProblemDescriptionState bool     `json:"problem_description_state"`
	Problem                 *Problem `json:"problem,omitempty"`
}

// NewUser returns the record every chat starts with.
func NewUser() *User {
	return &User{ProblemPendingState: true}
}

// flagValue decodes a flag written either as a boolean or as the 0/1 number
// the original daemon stored.
type flagValue bool

func (v *flagValue) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", "1":
		*v = true
	case "false", "0":
		*v = false
	default:
		return fmt.Errorf("invalid flag value %s", data)
	}
	return nil
}

// UnmarshalJSON fills the fields present in data, the rest keep their values.
func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		AccountBanState         *flagValue `json:"account_ban_state"`
		ProblemPendingState     *flagValue `json:"problem_pending_state"`
		ProblemDescriptionState *flagValue `json:"problem_description_state"`
		Problem                 *Problem   `json:"problem"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.AccountBanState != nil {
		u.AccountBanState = bool(*raw.AccountBanState)
	}
	if raw.ProblemPendingState != nil {
		u.ProblemPendingState = bool(*raw.ProblemPendingState)
	}
	if raw.ProblemDescriptionState != nil {
		u.ProblemDescriptionState = bool(*raw.ProblemDescriptionState)
	}
	if raw.Problem != nil {
		u.Problem = raw.Problem
	}
	return nil
}

func (u *User) Flag(f Flag) bool {
	switch f {
	case FlagBan:
		return u.AccountBanState
	case FlagPendingProblem:
		return u.ProblemPendingState
	case FlagDescribingProblem:
		return u.ProblemDescriptionState
	default:
		panic(fmt.Sprintf("unknown flag %d", int(f)))
	}
}

func (u *User) SetFlag(f Flag, value bool) {
	switch f {
	case FlagBan:
		u.AccountBanState = value
	case FlagPendingProblem:
		u.ProblemPendingState = value
	case FlagDescribingProblem:
		u.ProblemDescriptionState = value
	default:
		panic(fmt.Sprintf("unknown flag %d", int(f)))
	}
}

func (u *User) HasProblem() bool {
	return u.Problem != nil
}

func (u *User) State() ChatState {
	if u.ProblemDescriptionState {
		return ChatStateDescribing
	}
	return ChatStateIdle
}

func (u *User) Clone() *User {
	c := *u
	if u.Problem != nil {
		p := *u.Problem
		c.Problem = &p
	}
	return &c
}

type Problem struct {
	// CreatedAt is a unix timestamp, zero for problems that never expire.
	CreatedAt int64  `json:"time"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
}

func NewProblem(createdAt int64, username, body string) *Problem {
	return &Problem{
		CreatedAt: createdAt,
		Username:  username,
		Text:      FormatProblemText(username, body),
	}
}

// Body returns the description without the "@username: " prefix.
func (p *Problem) Body() string {
	return strings.TrimPrefix(p.Text, "@"+p.Username+": ")
}

func FormatProblemText(username, body string) string {
	return fmt.Sprintf("@%s: %s", username, body)
}

// ParseProblemText splits a stored "@username: body" text.
func ParseProblemText(text string) (username, body string, err error) {
	rest, ok := strings.CutPrefix(text, "@")
	if !ok {
		return "", "", fmt.Errorf("problem text %q has no username prefix", text)
	}
	username, body, ok = strings.Cut(rest, ": ")
	if !ok || username == "" || strings.ContainsAny(username, " :") {
		return "", "", fmt.Errorf("problem text %q has malformed username prefix", text)
	}
	return username, body, nil
}
