package flow

import (
	"context"
	"testing"
	"time"

	"github.com/BatmanBruc/wgshop-bot/internal/fakes"
	"github.com/BatmanBruc/wgshop-bot/internal/messages"
	"github.com/BatmanBruc/wgshop-bot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	operatorID = int64(1000)
	userID     = int64(42)
)

var (
	finland = types.Server{ID: "Finland", Title: "Финляндия", Endpoint: "http://fi:51821"}
	usa     = types.Server{ID: "USA", Title: "США", Endpoint: "http://us:51821"}
	now     = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
)

func newMachine(t *testing.T) (*Machine, *fakes.MemoryStore, *fakes.Notifier) {
	t.Helper()
	st := fakes.NewMemoryStore()
	n := fakes.NewNotifier()
	m := NewMachine(st, n, Config{
		OperatorID:   operatorID,
		Servers:      []types.Server{finland, usa},
		PaymentURL:   "https://pay.example",
		PaymentPrice: "200р",
		Now:          func() time.Time { return now },
	})
	return m, st, n
}

func persisted(t *testing.T, st *fakes.MemoryStore, id int64) types.ConversationState {
	t.Helper()
	got, err := st.GetState(context.Background(), id)
	require.NoError(t, err)
	return *got
}

func TestStartRegistersUserAndShowsMenu(t *testing.T) {
	m, st, n := newMachine(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, userID))

	_, err := st.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, types.StateStart, persisted(t, st, userID).State)
	last, ok := n.Last(userID)
	require.True(t, ok)
	assert.Equal(t, types.MenuMain, last.Menu)
}

func TestChooseServerMovesToBuying(t *testing.T) {
	m, st, n := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))

	require.NoError(t, m.Text(ctx, userID, "Купить 'США'"))

	got := persisted(t, st, userID)
	assert.Equal(t, types.StateBuying, got.State)
	require.NotNil(t, got.Pending)
	assert.Equal(t, types.PendingSelection{Server: "USA", Endpoint: usa.Endpoint}, *got.Pending)
	last, _ := n.Last(userID)
	assert.Equal(t, types.MenuCancel, last.Menu)
	assert.Contains(t, last.Text, "200р")
}

func TestChooseServerRefusedWithActiveSubscription(t *testing.T) {
	m, st, n := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	_, err := st.AddSubscription(ctx, userID, "Finland", now.Add(-29*24*time.Hour))
	require.NoError(t, err)

	require.NoError(t, m.ChooseServer(ctx, userID, messages.ButtonBuy(finland.Title)))

	assert.Equal(t, types.StateStart, persisted(t, st, userID).State)
	last, _ := n.Last(userID)
	assert.Equal(t, messages.AlreadySubscribed(finland.Title), last.Text)
}

func TestChooseServerAllowedAfterPeriod(t *testing.T) {
	m, st, _ := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	_, err := st.AddSubscription(ctx, userID, "Finland", now.Add(-30*24*time.Hour))
	require.NoError(t, err)

	require.NoError(t, m.ChooseServer(ctx, userID, messages.ButtonBuy(finland.Title)))
	assert.Equal(t, types.StateBuying, persisted(t, st, userID).State)
}

func TestCancelFromBuying(t *testing.T) {
	m, st, n := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	require.NoError(t, m.Text(ctx, userID, messages.ButtonBuy(finland.Title)))

	require.NoError(t, m.Text(ctx, userID, messages.ButtonCancel))

	got := persisted(t, st, userID)
	assert.Equal(t, types.StateStart, got.State)
	assert.Nil(t, got.Pending)
	last, _ := n.Last(userID)
	assert.Equal(t, messages.Cancelled(), last.Text)
	assert.Equal(t, types.MenuMain, last.Menu)
}

func TestSubmitReceiptForwardsAndWaits(t *testing.T) {
	m, st, n := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	require.NoError(t, m.Text(ctx, userID, messages.ButtonBuy(finland.Title)))

	require.NoError(t, m.SubmitReceipt(ctx, userID, types.Receipt{Kind: types.ReceiptPhoto, FileID: "file-1"}))

	got := persisted(t, st, userID)
	assert.Equal(t, types.StateWaitingPaymentConfirmation, got.State)
	require.NotNil(t, got.Pending, "selection is kept for the operator")
	assert.Equal(t, "Finland", got.Pending.Server)

	require.Len(t, n.Reviews, 1)
	assert.Equal(t, "approve_42_Finland", n.Reviews[0].ApproveData)
	assert.Equal(t, "reject_42_Finland", n.Reviews[0].RejectData)
	last, _ := n.Last(userID)
	assert.Equal(t, messages.ReceiptThanks(), last.Text)
}

func TestSubmitReceiptRollsBackWhenOperatorUnreachable(t *testing.T) {
	m, st, n := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	require.NoError(t, m.Text(ctx, userID, messages.ButtonBuy(finland.Title)))
	n.ReviewErr = fakes.ErrFake

	require.Error(t, m.SubmitReceipt(ctx, userID, types.Receipt{Kind: types.ReceiptDocument, FileID: "doc"}))
	assert.Equal(t, types.StateBuying, persisted(t, st, userID).State)
}

func TestUnrecognizedInputDoesNotMutate(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Machine)
		act   func(m *Machine) error
		want  types.ChatState
	}{
		{
			name: "text in start",
			act:  func(m *Machine) error { return m.Text(context.Background(), userID, "hello") },
			want: types.StateStart,
		},
		{
			name: "receipt in start",
			act: func(m *Machine) error {
				return m.SubmitReceipt(context.Background(), userID, types.Receipt{Kind: types.ReceiptPhoto, FileID: "f"})
			},
			want: types.StateStart,
		},
		{
			name:  "cancel in waiting",
			setup: toWaiting,
			act:   func(m *Machine) error { return m.Text(context.Background(), userID, messages.ButtonCancel) },
			want:  types.StateWaitingPaymentConfirmation,
		},
		{
			name:  "buy button in waiting",
			setup: toWaiting,
			act:   func(m *Machine) error { return m.Text(context.Background(), userID, messages.ButtonBuy(usa.Title)) },
			want:  types.StateWaitingPaymentConfirmation,
		},
		{
			name: "unknown server label",
			act:  func(m *Machine) error { return m.Text(context.Background(), userID, "Купить 'Марс'") },
			want: types.StateStart,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, st, n := newMachine(t)
			require.NoError(t, m.Start(context.Background(), userID))
			if tt.setup != nil {
				tt.setup(m)
			}
			before := persisted(t, st, userID)

			require.NoError(t, tt.act(m))

			after := persisted(t, st, userID)
			assert.Equal(t, tt.want, after.State)
			assert.Equal(t, before.Pending, after.Pending)
			last, _ := n.Last(userID)
			assert.Equal(t, messages.NotUnderstood(), last.Text)
		})
	}
}

func toWaiting(m *Machine) {
	ctx := context.Background()
	_ = m.Text(ctx, userID, messages.ButtonBuy(finland.Title))
	_ = m.SubmitReceipt(ctx, userID, types.Receipt{Kind: types.ReceiptPhoto, FileID: "f"})
}

func TestStartWhileWaitingKeepsState(t *testing.T) {
	m, st, n := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	toWaiting(m)

	require.NoError(t, m.Start(ctx, userID))

	assert.Equal(t, types.StateWaitingPaymentConfirmation, persisted(t, st, userID).State)
	last, _ := n.Last(userID)
	assert.Equal(t, messages.ReceiptUnderReview(), last.Text)
}

func TestRestoreResumesAfterRestart(t *testing.T) {
	m, st, n := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	toWaiting(m)

	restarted := NewMachine(st, n, m.cfg)
	count, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := restarted.State(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, types.StateWaitingPaymentConfirmation, got.State)
	require.NotNil(t, got.Pending)
	assert.Equal(t, "Finland", got.Pending.Server)

	claimed, err := restarted.ClaimApproval(ctx, userID, "Finland")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestRestoreReleasesInterruptedClaim(t *testing.T) {
	m, st, n := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	toWaiting(m)
	ok, err := m.ClaimApproval(ctx, userID, "Finland")
	require.NoError(t, err)
	require.True(t, ok)

	restarted := NewMachine(st, n, m.cfg)
	_, err = restarted.Restore(ctx)
	require.NoError(t, err)

	assert.Equal(t, types.StateWaitingPaymentConfirmation, persisted(t, st, userID).State)
	got, err := restarted.State(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, types.StateWaitingPaymentConfirmation, got.State)
	require.NotNil(t, got.Pending, "selection kept for the operator")

	ok, err = restarted.ClaimApproval(ctx, userID, "Finland")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseOutlivesCancelledContext(t *testing.T) {
	m, st, _ := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	toWaiting(m)
	ok, err := m.ClaimApproval(ctx, userID, "Finland")
	require.NoError(t, err)
	require.True(t, ok)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, m.ReleaseApproval(cancelled, userID))
	assert.Equal(t, types.StateWaitingPaymentConfirmation, persisted(t, st, userID).State)

	_, err = m.ClaimApproval(ctx, userID, "Finland")
	require.NoError(t, err)
	require.NoError(t, m.Complete(cancelled, userID))
	assert.Equal(t, types.StateStart, persisted(t, st, userID).State)
}

func TestStaleClaimTakeover(t *testing.T) {
	for name, tc := range map[string]struct {
		claimedAgo time.Duration
		want       bool
	}{
		"stale": {claimedAgo: time.Hour, want: true},
		"fresh": {claimedAgo: time.Minute, want: false},
	} {
		t.Run(name, func(t *testing.T) {
			st := fakes.NewMemoryStore()
			m := NewMachine(st, fakes.NewNotifier(), Config{
				OperatorID:   operatorID,
				Servers:      []types.Server{finland},
				Now:          func() time.Time { return now },
				ClaimTimeout: 10 * time.Minute,
			})
			st.SetState(types.ConversationState{
				UserID:    userID,
				State:     types.StateProcessingApproval,
				Pending:   &types.PendingSelection{Server: finland.ID},
				UpdatedAt: now.Add(-tc.claimedAgo),
			})

			ok, err := m.ClaimApproval(context.Background(), userID, "Finland")
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
			assert.Equal(t, types.StateProcessingApproval, persisted(t, st, userID).State)
		})
	}
}

func TestStateDefaultsToStart(t *testing.T) {
	m, _, _ := newMachine(t)
	got, err := m.State(context.Background(), 999)
	require.NoError(t, err)
	assert.Equal(t, types.StateStart, got.State)
}

func TestClaimReleaseComplete(t *testing.T) {
	m, st, _ := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, userID))
	toWaiting(m)

	ok, err := m.ClaimApproval(ctx, userID, "USA")
	require.NoError(t, err)
	assert.False(t, ok, "claim for another server")

	ok, err = m.ClaimApproval(ctx, userID, "Finland")
	require.NoError(t, err)
	require.True(t, ok)
	cached, _ := m.State(ctx, userID)
	assert.Equal(t, types.StateProcessingApproval, cached.State)

	ok, err = m.ClaimApproval(ctx, userID, "Finland")
	require.NoError(t, err)
	assert.False(t, ok, "second claim loses")

	require.NoError(t, m.ReleaseApproval(ctx, userID))
	assert.Equal(t, types.StateWaitingPaymentConfirmation, persisted(t, st, userID).State)

	require.NoError(t, m.Complete(ctx, userID))
	got := persisted(t, st, userID)
	assert.Equal(t, types.StateStart, got.State)
	assert.Nil(t, got.Pending)
}

func TestActionData(t *testing.T) {
	assert.Equal(t, "reject_7_USA", ActionData(types.DecisionReject, 7, "USA"))
}
