package handlers

import (
	"context"

	"github.com/go-telegram/bot/models"
)

func (bh *Handlers) HandleText(ctx context.Context, api API, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.Chat.ID
	bh.reply(ctx, api, userID, bh.conv.Text(ctx, userID, update.Message.Text))
}
