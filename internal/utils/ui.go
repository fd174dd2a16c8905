package utils

import (
	"github.com/BatmanBruc/wgshop-bot/internal/messages"
	"github.com/BatmanBruc/wgshop-bot/types"
	"github.com/go-telegram/bot/models"
)

type Button struct {
	Text         string
	CallbackData string
}

func BuildInlineKeyboard(buttons []Button, perRow int) *models.InlineKeyboardMarkup {
	if perRow <= 0 {
		perRow = 3
	}
	rows := make([][]models.InlineKeyboardButton, 0)
	row := make([]models.InlineKeyboardButton, 0, perRow)
	for i, button := range buttons {
		if i > 0 && i%perRow == 0 {
			rows = append(rows, row)
			row = make([]models.InlineKeyboardButton, 0, perRow)
		}
		row = append(row, models.InlineKeyboardButton{
			Text:         button.Text,
			CallbackData: button.CallbackData,
		})
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// BuildReviewKeyboard is attached to a receipt forwarded to the operator.
func BuildReviewKeyboard(req types.ReviewRequest) *models.InlineKeyboardMarkup {
	return BuildInlineKeyboard([]Button{
		{Text: messages.ButtonApprove, CallbackData: req.ApproveData},
		{Text: messages.ButtonReject, CallbackData: req.RejectData},
	}, 2)
}

// BuildMainMenu puts every server's buy button on one row.
func BuildMainMenu(servers []types.Server) *models.ReplyKeyboardMarkup {
	row := make([]models.KeyboardButton, 0, len(servers))
	for _, s := range servers {
		row = append(row, models.KeyboardButton{Text: messages.ButtonBuy(s.Title)})
	}
	return &models.ReplyKeyboardMarkup{
		Keyboard:       [][]models.KeyboardButton{row},
		ResizeKeyboard: true,
	}
}

func BuildCancelKeyboard() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard:       [][]models.KeyboardButton{{{Text: messages.ButtonCancel}}},
		ResizeKeyboard: true,
	}
}

// ReplyMarkup maps a menu choice to a keyboard; nil keeps the current one.
func ReplyMarkup(menu types.Menu, servers []types.Server) models.ReplyMarkup {
	switch menu {
	case types.MenuMain:
		return BuildMainMenu(servers)
	case types.MenuCancel:
		return BuildCancelKeyboard()
	case types.MenuNone:
		return nil
	}
	return nil
}
