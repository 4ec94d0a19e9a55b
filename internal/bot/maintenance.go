package bot

import (
	"context"

	"github.com/C4T-BuT-S4D/hokd/internal/models"
)

// MaintenanceBot answers every message with a fixed notice and never touches storage.
type MaintenanceBot struct {
	sender Messenger
}

func NewMaintenance(sender Messenger) *MaintenanceBot {
	return &MaintenanceBot{sender: sender}
}

func (b *MaintenanceBot) Handle(ctx context.Context, msg models.InboundMessage) error {
	uc := NewUpdateContext(context.WithoutCancel(ctx), msg, false)
	uc.L().Debugf("answering in maintenance mode")
	if err := b.sender.SendMessage(uc, msg.ChatID, msgMaintenance, nil); err != nil {
		uc.L().Warnf("failed to send maintenance notice: %v", err)
	}
	return nil
}
