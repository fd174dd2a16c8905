package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/wgshop-bot/internal/logging"
	"github.com/BatmanBruc/wgshop-bot/internal/messages"
)

func (bh *Handlers) HandleCommand(ctx context.Context, api API, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.Chat.ID
	fields := strings.Fields(update.Message.Text)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		bh.reply(ctx, api, userID, bh.conv.Start(ctx, userID))
	case "/scan":
		if userID != bh.operatorID || bh.scanTrigger == nil {
			bh.reply(ctx, api, userID, bh.conv.Unrecognized(ctx, userID))
			return
		}
		if bh.scanTrigger() {
			bh.sendText(ctx, api, userID, messages.ScanQueued())
		} else {
			bh.sendText(ctx, api, userID, messages.ScanBusy())
		}
	case "/resend":
		if userID != bh.operatorID {
			bh.reply(ctx, api, userID, bh.conv.Unrecognized(ctx, userID))
			return
		}
		bh.resend(ctx, api, fields[1:])
	default:
		bh.reply(ctx, api, userID, bh.conv.Unrecognized(ctx, userID))
	}
}

// resend handles "/resend <user> <server>" from the operator.
func (bh *Handlers) resend(ctx context.Context, api API, args []string) {
	if len(args) != 2 {
		bh.sendText(ctx, api, bh.operatorID, messages.ResendUsage())
		return
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || target <= 0 {
		bh.sendText(ctx, api, bh.operatorID, messages.ResendUsage())
		return
	}
	server := args[1]
	if err := bh.approvals.Resend(ctx, target, server); err != nil {
		logging.FromContext(ctx).Error().Err(err).Int64("user_id", target).Str("server", server).Msg("resend config")
		bh.sendText(ctx, api, bh.operatorID, messages.ResendFailed(target, server))
		return
	}
	bh.sendText(ctx, api, bh.operatorID, messages.ResendDone(target, server))
}
