package bot

import (
	"github.com/C4T-BuT-S4D/hokd/internal/models"
	"github.com/looplab/fsm"
)

const (
	eventDescribe = "describe"
	eventSubmit   = "submit"
	eventAbort    = "abort"
)

// newConversation restores the per-chat dialogue machine from the persisted state.
func newConversation(state models.ChatState) *fsm.FSM {
	idle := models.ChatStateIdle.String()
	describing := models.ChatStateDescribing.String()

	return fsm.NewFSM(
		state.String(),
		fsm.Events{
			{Name: eventDescribe, Src: []string{idle}, Dst: describing},
			{Name: eventSubmit, Src: []string{describing}, Dst: idle},
			{Name: eventAbort, Src: []string{describing}, Dst: idle},
		},
		fsm.Callbacks{},
	)
}
