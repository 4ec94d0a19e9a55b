package models

type ChatState string

const (
	ChatStateIdle       ChatState = "idle"
	ChatStateDescribing ChatState = "describing"
)

func (s ChatState) String() string {
	return string(s)
}
