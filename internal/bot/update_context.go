package bot

import (
	"context"

	"github.com/C4T-BuT-S4D/hokd/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type UpdateContext struct {
	context.Context
	msg     models.InboundMessage
	isAdmin bool
	log     *logrus.Entry
}

func NewUpdateContext(c context.Context, msg models.InboundMessage, isAdmin bool) *UpdateContext {
	fields := logrus.Fields{
		"rid":       uuid.NewString(),
		"update_id": msg.UpdateID,
		"chat_id":   msg.ChatID,
	}
	if msg.Username != "" {
		fields["username"] = msg.Username
	}
	if isAdmin {
		fields["admin"] = true
	}

	return &UpdateContext{
		Context: c,
		msg:     msg,
		isAdmin: isAdmin,
		log:     logrus.WithFields(fields),
	}
}

func (uc *UpdateContext) L() *logrus.Entry {
	return uc.log
}

func (uc *UpdateContext) Message() models.InboundMessage {
	return uc.msg
}

func (uc *UpdateContext) ChatID() int64 {
	return uc.msg.ChatID
}

func (uc *UpdateContext) IsAdmin() bool {
	return uc.isAdmin
}
