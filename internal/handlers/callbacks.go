package handlers

import (
	"context"
	"errors"

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

// HandleClickButton applies an approve/reject tap from the operator's review card.
func (bh *Handlers) HandleClickButton(ctx context.Context, api API, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	logger := logging.FromContext(ctx).With().Int64("from", cq.From.ID).Logger()

	data, ok := contextkeys.GetCallbackData(ctx)
	if !ok {
		data = cq.Data
	}
	if !approval.IsActionData(data) {
		logger.Debug().Str("data", data).Msg("unexpected callback")
		bh.answerCallback(ctx, api, cq.ID, messages.CallbackMalformed)
		return
	}

	if cq.From.ID != bh.operatorID {
		logger.Warn().Msg("decision from a non-operator chat ignored")
		bh.answerCallback(ctx, api, cq.ID, messages.CallbackForbidden)
		return
	}

	action, err := approval.ParseAction(data)
	if err != nil {
		logger.Debug().Err(err).Str("data", data).Msg("malformed callback")
		bh.answerCallback(ctx, api, cq.ID, messages.CallbackMalformed)
		return
	}
	if chatID := middleware.ChatIDFromMaybeInaccessibleMessage(cq.Message); chatID != 0 {
		action.Review = &types.MessageRef{ChatID: chatID, MessageID: reviewMessageID(cq.Message)}
	}

	outcome, err := bh.approvals.Handle(ctx, action)
	if err != nil && !errors.Is(err, approval.ErrUnknownServer) {
		logger.Error().Err(err).Str("outcome", string(outcome)).Msg("approval failed")
	}
	bh.answerCallback(ctx, api, cq.ID, callbackText(outcome))
}

func reviewMessageID(m models.MaybeInaccessibleMessage) int {
	if m.Message != nil {
		return m.Message.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.MessageID
	}
	return 0
}

func callbackText(outcome approval.Outcome) string {
	switch outcome {
	case approval.OutcomeApproved, approval.OutcomeRenewed:
		return messages.CallbackApproved
	case approval.OutcomeRejected:
		return messages.CallbackRejected
	case approval.OutcomeBusy:
		return messages.CallbackBusy
	case approval.OutcomeAlreadyProcessed:
		return messages.CallbackAlreadyProcessed
	case approval.OutcomeUnknownServer:
		return messages.CallbackUnknownServer
	case approval.OutcomeRetryable, approval.OutcomeFailed:
		return messages.CallbackFailed
	}
	return messages.CallbackFailed
}

func (bh *Handlers) answerCallback(ctx context.Context, api API, callbackID, text string) {
	if _, err := api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	}); err != nil {
		log.Warn().Err(err).Msg("answer callback")
	}
}
