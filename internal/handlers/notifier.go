package handlers

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/wgshop-bot/internal/messages"
	"github.com/BatmanBruc/wgshop-bot/internal/utils"
	"github.com/BatmanBruc/wgshop-bot/types"
)

// TelegramNotifier delivers flow output through the Bot API.
type TelegramNotifier struct {
	api     API
	servers []types.Server
}

var _ types.Notifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(api API, servers []types.Server) *TelegramNotifier {
	return &TelegramNotifier{api: api, servers: servers}
}

func (n *TelegramNotifier) Send(ctx context.Context, chatID int64, text string, menu types.Menu) error {
	_, err := n.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: utils.ReplyMarkup(menu, n.servers),
	})
	if err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

func (n *TelegramNotifier) SendPhoto(ctx context.Context, chatID int64, fileName string, png []byte, caption string) error {
	_, err := n.api.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:    chatID,
		Photo:     &models.InputFileUpload{Filename: fileName, Data: bytes.NewReader(png)},
		Caption:   caption,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("send photo to %d: %w", chatID, err)
	}
	return nil
}

// SendReview re-sends the receipt to the operator by file id with approve/reject buttons.
func (n *TelegramNotifier) SendReview(ctx context.Context, operatorID int64, req types.ReviewRequest) error {
	caption := messages.ReviewCaption(req.UserID, req.Server)
	kb := utils.BuildReviewKeyboard(req)
	file := &models.InputFileString{Data: req.Receipt.FileID}

	var err error
	switch req.Receipt.Kind {
	case types.ReceiptPhoto:
		_, err = n.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:      operatorID,
			Photo:       file,
			Caption:     caption,
			ParseMode:   messages.ParseModeHTML,
			ReplyMarkup: kb,
		})
	case types.ReceiptDocument:
		_, err = n.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:      operatorID,
			Document:    file,
			Caption:     caption,
			ParseMode:   messages.ParseModeHTML,
			ReplyMarkup: kb,
		})
	default:
		return fmt.Errorf("unsupported receipt kind %q", req.Receipt.Kind)
	}
	if err != nil {
		return fmt.Errorf("forward receipt of %d: %w", req.UserID, err)
	}
	return nil
}

// EditCaption replaces the caption and drops the inline keyboard.
func (n *TelegramNotifier) EditCaption(ctx context.Context, ref types.MessageRef, caption string) error {
	_, err := n.api.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		Caption:   caption,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("edit caption %d/%d: %w", ref.ChatID, ref.MessageID, err)
	}
	return nil
}
