package handlers

import (
	"context"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/wgshop-bot/internal/contextkeys"
	"github.com/BatmanBruc/wgshop-bot/internal/logging"
	"github.com/BatmanBruc/wgshop-bot/internal/messages"
	"github.com/BatmanBruc/wgshop-bot/types"
)

// HandleFile treats an uploaded photo or document as a payment receipt.
func (bh *Handlers) HandleFile(ctx context.Context, api API, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.Chat.ID

	file, ok := contextkeys.GetFileInfo(ctx, 0)
	if !ok || file.FileID == "" {
		bh.reply(ctx, api, userID, bh.conv.Unrecognized(ctx, userID))
		return
	}

	receipt := types.Receipt{Kind: types.ReceiptDocument, FileID: file.FileID}
	if file.FileType == contextkeys.MessageTypePhoto {
		receipt.Kind = types.ReceiptPhoto
	}

	if err := bh.conv.SubmitReceipt(ctx, userID, receipt); err != nil {
		logging.FromContext(ctx).Error().Err(err).Int64("user_id", userID).Msg("submit receipt")
		bh.sendText(ctx, api, userID, messages.ReceiptFailed())
	}
}
