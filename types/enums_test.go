package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChatStateKnownTags(t *testing.T) {
	for _, s := range chatStates {
		got, err := ParseChatState(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.True(t, got.Valid())
	}
}

func TestParseChatStateRejectsUnknown(t *testing.T) {
	for _, tag := range []string{"", "Start", "BuyProcess:WaitingAnswer", "buyprocess:start"} {
		_, err := ParseChatState(tag)
		assert.Error(t, err, tag)
	}
	assert.False(t, ChatState("BuyProcess:Nope").Valid())
}

func TestAwaitingOperator(t *testing.T) {
	assert.False(t, StateStart.AwaitingOperator())
	assert.False(t, StateBuying.AwaitingOperator())
	assert.True(t, StateWaitingPaymentConfirmation.AwaitingOperator())
	assert.True(t, StateProcessingApproval.AwaitingOperator())
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		paid time.Time
		want int
	}{
		{"same instant", now, 0},
		{"one second short of a day", now.Add(-24*time.Hour + time.Second), 0},
		{"exactly thirty days", now.Add(-30 * 24 * time.Hour), 30},
		{"thirty two and a half days", now.Add(-(32*24 + 12) * time.Hour), 32},
		{"future payment", now.Add(time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysSince(tt.paid, now))
		})
	}
}
