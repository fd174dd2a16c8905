package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"

	"github.com/BatmanBruc/wgshop-bot/internal/approval"
	"github.com/BatmanBruc/wgshop-bot/internal/contextkeys"
	"github.com/BatmanBruc/wgshop-bot/internal/logging"
	"github.com/BatmanBruc/wgshop-bot/internal/messages"
	"github.com/BatmanBruc/wgshop-bot/internal/middleware"
	"github.com/BatmanBruc/wgshop-bot/types"
)

// API is the part of *bot.Bot the handlers and the notifier call.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	EditMessageCaption(ctx context.Context, params *bot.EditMessageCaptionParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

var _ API = (*bot.Bot)(nil)

// Conversation is the user-facing side of the purchase flow.
type Conversation interface {
	Start(ctx context.Context, userID int64) error
	Text(ctx context.Context, userID int64, text string) error
	SubmitReceipt(ctx context.Context, userID int64, receipt types.Receipt) error
	Unrecognized(ctx context.Context, userID int64) error
}

// Approvals applies operator decisions.
type Approvals interface {
	Handle(ctx context.Context, a approval.Action) (approval.Outcome, error)
	Resend(ctx context.Context, userID int64, server string) error
}

type Handlers struct {
	conv       Conversation
	approvals  Approvals
	operatorID int64
	// scanTrigger queues an expiry run; nil when the scanner is not scheduled.
	scanTrigger func() bool
}

func NewHandlers(conv Conversation, approvals Approvals, operatorID int64, scanTrigger func() bool) *Handlers {
	return &Handlers{
		conv:        conv,
		approvals:   approvals,
		operatorID:  operatorID,
		scanTrigger: scanTrigger,
	}
}

func (bh *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	bh.Dispatch(ctx, b, update)
}

// Dispatch routes an analysed update by its message type.
func (bh *Handlers) Dispatch(ctx context.Context, api API, update *models.Update) {
	if update == nil {
		return
	}
	messageType, _ := contextkeys.GetMessageType(ctx)

	switch messageType {
	case contextkeys.MessageTypeClickButton:
		bh.HandleClickButton(ctx, api, update)
	case contextkeys.MessageTypeCommand:
		bh.HandleCommand(ctx, api, update)
	case contextkeys.MessageTypePhoto, contextkeys.MessageTypeDocument:
		bh.HandleFile(ctx, api, update)
	case contextkeys.MessageTypeText:
		bh.HandleText(ctx, api, update)
	default:
		userID := middleware.UserID(update)
		if userID == 0 {
			return
		}
		bh.reply(ctx, api, userID, bh.conv.Unrecognized(ctx, userID))
	}
}

// reply logs a failed operation and tells the user something went wrong.
func (bh *Handlers) reply(ctx context.Context, api API, chatID int64, err error) {
	if err == nil {
		return
	}
	logging.FromContext(ctx).Error().Err(err).Int64("user_id", chatID).Msg("handler failed")
	bh.sendText(ctx, api, chatID, messages.ErrorDefault())
}

func (bh *Handlers) sendText(ctx context.Context, api API, chatID int64, text string) {
	if _, err := api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	}); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}
