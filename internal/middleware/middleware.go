package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"

	"github.com/BatmanBruc/wgshop-bot/internal/contextkeys"
	"github.com/BatmanBruc/wgshop-bot/internal/logging"
)

// RequestIDMiddleware tags every update with a request id for the logs.
func RequestIDMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		ctx, _ = logging.WithRequestID(ctx, "")
		logging.FromContext(ctx).Debug().
			Str("update_id", strconv.FormatInt(update.ID, 10)).
			Int64("user_id", UserID(update)).
			Msg("update received")
		next(ctx, b, update)
	}
}

// RecoverMiddleware keeps a panicking handler from taking the poller down.
func RecoverMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("request_id", logging.RequestID(ctx)).Msg("handler panicked")
			}
		}()
		next(ctx, b, update)
	}
}

func AnalyzeMessageMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.CallbackQuery != nil && update.CallbackQuery.Data != "" {
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeClickButton)
			ctx = contextkeys.WithCallbackData(ctx, update.CallbackQuery.Data)
			next(ctx, b, update)
			return
		}

		if update.Message != nil && strings.HasPrefix(update.Message.Text, "/") {
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeCommand)
		} else {
			ctx = analyzeMessage(ctx, update)
		}

		next(ctx, b, update)
	}
}

// UserID returns the sender of a message or callback.
func UserID(update *models.Update) int64 {
	switch {
	case update == nil:
		return 0
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	case update.Message != nil:
		return update.Message.Chat.ID
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From.ID
	}
	return 0
}

func ChatIDFromMaybeInaccessibleMessage(m models.MaybeInaccessibleMessage) int64 {
	if m.Message != nil {
		return m.Message.Chat.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.Chat.ID
	}
	return 0
}

func analyzeMessage(ctx context.Context, update *models.Update) context.Context {
	if update.Message == nil {
		return ctx
	}

	msg := update.Message
	ctx = contextkeys.WithMessageType(ctx, determineMessageType(msg))
	if files := analyzeFilesInMessage(msg); files.HasFiles {
		ctx = contextkeys.WithFilesInfo(ctx, files)
	}
	return ctx
}

func determineMessageType(msg *models.Message) contextkeys.MessageType {
	if len(msg.Photo) > 0 {
		return contextkeys.MessageTypePhoto
	}

	if msg.Document != nil {
		return contextkeys.MessageTypeDocument
	}

	if msg.Text != "" {
		return contextkeys.MessageTypeText
	}

	return contextkeys.MessageTypeUnknown
}

func analyzeFilesInMessage(msg *models.Message) *contextkeys.FilesInfo {
	files := make([]contextkeys.FileInfo, 0, 1)

	if len(msg.Photo) > 0 {
		best := msg.Photo[0]
		for i := 1; i < len(msg.Photo); i++ {
			if msg.Photo[i].FileSize > best.FileSize {
				best = msg.Photo[i]
			}
		}
		files = append(files, contextkeys.FileInfo{
			FileType: contextkeys.MessageTypePhoto,
			FileID:   best.FileID,
			FileSize: int64(best.FileSize),
			FileName: "photo.jpg",
		})
	}

	if msg.Document != nil {
		files = append(files, contextkeys.FileInfo{
			FileType: contextkeys.MessageTypeDocument,
			FileID:   msg.Document.FileID,
			FileSize: int64(msg.Document.FileSize),
			MimeType: msg.Document.MimeType,
			FileName: msg.Document.FileName,
		})
	}

	return &contextkeys.FilesInfo{
		TotalFiles: len(files),
		Files:      files,
		HasFiles:   len(files) > 0,
	}
}
