package approval

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/BatmanBruc/wgshop-bot/internal/fakes"
	"github.com/BatmanBruc/wgshop-bot/internal/flow"
	"github.com/BatmanBruc/wgshop-bot/internal/messages"
	"github.com/BatmanBruc/wgshop-bot/internal/qr"
	"github.com/BatmanBruc/wgshop-bot/store"
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
	now     = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	review  = &types.MessageRef{ChatID: operatorID, MessageID: 5}
)

type stubEncoder struct{}

func (stubEncoder) Encode(content string) ([]byte, error) { return []byte("png:" + content), nil }

type env struct {
	wf       *Workflow
	store    *fakes.MemoryStore
	prov     *fakes.Provisioner
	notifier *fakes.Notifier
	cache    *qr.Cache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := fakes.NewMemoryStore()
	n := fakes.NewNotifier()
	prov := fakes.NewProvisioner()
	cache, err := qr.NewCache(t.TempDir())
	require.NoError(t, err)

	e := &env{store: st, prov: prov, notifier: n, cache: cache}
	e.wf, _ = e.build()
	return e
}

func (e *env) build() (*Workflow, *flow.Machine) {
	clock := func() time.Time { return now }
	m := flow.NewMachine(e.store, e.notifier, flow.Config{
		OperatorID: operatorID,
		Servers:    []types.Server{finland},
		Now:        clock,
	})
	wf := NewWorkflow(m, e.store, fakes.Provisioners{"Finland": e.prov}, e.notifier, store.NewLocalLocker(), stubEncoder{}, e.cache, Config{
		OperatorID:   operatorID,
		SupportEmail: "help@example.com",
		Now:          clock,
	})
	return wf, m
}

// restart replaces the workflow with a fresh process over the same store.
func (e *env) restart(t *testing.T) {
	t.Helper()
	wf, m := e.build()
	_, err := m.Restore(context.Background())
	require.NoError(t, err)
	e.wf = wf
}

// waiting registers the user and parks them in WaitingPaymentConfirmation.
func (e *env) waiting(t *testing.T) {
	t.Helper()
	require.NoError(t, e.store.AddUser(context.Background(), userID, now.Add(-100*24*time.Hour)))
	e.store.SetState(types.ConversationState{
		UserID:  userID,
		State:   types.StateWaitingPaymentConfirmation,
		Pending: &types.PendingSelection{Server: finland.ID, Endpoint: finland.Endpoint},
	})
}

func (e *env) state(t *testing.T) types.ChatState {
	t.Helper()
	st, err := e.store.GetState(context.Background(), userID)
	require.NoError(t, err)
	return st.State
}

func approve() Action {
	return Action{Decision: types.DecisionApprove, UserID: userID, Server: finland.ID, Review: review}
}

func TestRejectMakesNoProvisioningCalls(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)

	out, err := e.wf.Handle(context.Background(), Action{Decision: types.DecisionReject, UserID: userID, Server: "Finland", Review: review})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out)

	assert.Zero(t, e.prov.TotalCalls())
	assert.Equal(t, types.StateStart, e.state(t))
	assert.Empty(t, e.store.Subscriptions(userID, "Finland"))

	msgs := e.notifier.To(userID)
	require.Len(t, msgs, 2)
	assert.Equal(t, messages.Rejected("help@example.com"), msgs[0].Text)
	assert.Equal(t, types.MenuMain, msgs[1].Menu)
	require.Len(t, e.notifier.Captions, 1)
	assert.Equal(t, messages.RejectedCaption(userID, "Finland"), e.notifier.Captions[0].Text)
}

func TestApproveProvisionsFreshClient(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)

	out, err := e.wf.Handle(context.Background(), approve())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, out)

	assert.Equal(t, 1, e.prov.Calls("CreateClient"))
	clients := e.prov.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, "42", clients[0].Name)

	subs := e.store.Subscriptions(userID, "Finland")
	require.Len(t, subs, 1)
	assert.Equal(t, now, subs[0].DatePaid)

	require.Len(t, e.notifier.Photos, 1)
	assert.Equal(t, "wg_qrcode_42_Finland.png", e.notifier.Photos[0].FileName)
	_, err = os.Stat(e.cache.Path(userID, "Finland"))
	assert.NoError(t, err, "qr artifact cached")

	var sawConfig bool
	for _, m := range e.notifier.To(userID) {
		if m.Text == messages.ClientConfig(finland.Title, "[Interface]\n# "+clients[0].ID+"\n") {
			sawConfig = true
		}
	}
	assert.True(t, sawConfig, "raw config delivered")
	assert.Equal(t, types.StateStart, e.state(t))
	assert.Equal(t, messages.ApprovedCaption(userID, "Finland"), e.notifier.Captions[0].Text)
}

func TestDuplicateApprovalsCreateOnce(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	e.prov.CreateDelay = 20 * time.Millisecond

	const taps = 8
	outcomes := make([]Outcome, taps)
	var wg sync.WaitGroup
	for i := 0; i < taps; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], _ = e.wf.Handle(context.Background(), approve())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, e.prov.Calls("CreateClient"))
	approved := 0
	for _, o := range outcomes {
		switch o {
		case OutcomeApproved:
			approved++
		case OutcomeBusy, OutcomeAlreadyProcessed:
		default:
			t.Fatalf("unexpected outcome %q", o)
		}
	}
	assert.Equal(t, 1, approved)
	assert.Len(t, e.store.Subscriptions(userID, "Finland"), 1)
}

func TestRepeatedTapAfterCompletion(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	ctx := context.Background()

	_, err := e.wf.Handle(ctx, approve())
	require.NoError(t, err)
	calls := e.prov.TotalCalls()

	out, err := e.wf.Handle(ctx, approve())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, out)
	assert.Equal(t, calls, e.prov.TotalCalls())

	out, err = e.wf.Handle(ctx, Action{Decision: types.DecisionReject, UserID: userID, Server: "Finland"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, out, "stale reject after approval")
}

func TestRenewalWindow(t *testing.T) {
	tests := []struct {
		days  int
		renew bool
	}{
		{29, false},
		{30, true},
		{31, true},
		{32, true},
		{33, false},
		{34, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("day_%d", tt.days), func(t *testing.T) {
			e := newEnv(t)
			e.waiting(t)
			_, err := e.store.AddSubscription(context.Background(), userID, "Finland", now.Add(-time.Duration(tt.days)*24*time.Hour))
			require.NoError(t, err)
			e.prov.Seed("42", false)

			out, err := e.wf.Handle(context.Background(), approve())
			require.NoError(t, err)

			if tt.renew {
				assert.Equal(t, OutcomeRenewed, out)
				assert.Equal(t, 1, e.prov.Calls("EnableClient"))
				assert.Zero(t, e.prov.Calls("CreateClient"))
				assert.True(t, e.prov.Clients()[0].Enabled)
				last, err := e.store.LastPayment(context.Background(), userID, "Finland")
				require.NoError(t, err)
				assert.Equal(t, now, last.DatePaid, "renewal is recorded as a payment")
				assert.Zero(t, e.notifier.PhotoCount())
			} else {
				assert.Equal(t, OutcomeApproved, out)
				assert.Zero(t, e.prov.Calls("EnableClient"))
				assert.Equal(t, 1, e.prov.Calls("CreateClient"))
			}
			assert.Equal(t, types.StateStart, e.state(t))
		})
	}
}

func TestRenewalFailureFallsBackToCreate(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	_, err := e.store.AddSubscription(context.Background(), userID, "Finland", now.Add(-31*24*time.Hour))
	require.NoError(t, err)
	e.prov.Seed("42", false)
	e.prov.EnableErr = fakes.ErrFake

	out, err := e.wf.Handle(context.Background(), approve())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, out)
	assert.Equal(t, 1, e.prov.Calls("CreateClient"))
	assert.Equal(t, messages.EnableFailed(), e.notifier.To(userID)[0].Text)
}

func TestAuthFailureCompensatesAndReleases(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	e.prov.AuthErr = fakes.ErrFake
	ctx := context.Background()

	out, err := e.wf.Handle(ctx, approve())
	require.ErrorIs(t, err, fakes.ErrFake)
	assert.Equal(t, OutcomeRetryable, out)

	assert.Empty(t, e.store.Subscriptions(userID, "Finland"), "payment record rolled back")
	assert.Zero(t, e.prov.Calls("CreateClient"))
	assert.Equal(t, types.StateWaitingPaymentConfirmation, e.state(t), "claim released")
	last, _ := e.notifier.Last(userID)
	assert.Equal(t, messages.ProvisioningFailed(), last.Text)
	assert.Empty(t, e.notifier.Captions, "operator keeps the buttons")

	e.prov.AuthErr = nil
	out, err = e.wf.Handle(ctx, approve())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, out)
	assert.Len(t, e.store.Subscriptions(userID, "Finland"), 1)
}

func TestCreateFailureCompensates(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	e.prov.CreateErr = fakes.ErrFake

	out, err := e.wf.Handle(context.Background(), approve())
	require.Error(t, err)
	assert.Equal(t, OutcomeRetryable, out)
	assert.Empty(t, e.store.Subscriptions(userID, "Finland"))
	assert.Equal(t, types.StateWaitingPaymentConfirmation, e.state(t))
}

func TestMissingUserEndsFlowWithoutProvisioning(t *testing.T) {
	e := newEnv(t)
	e.store.SetState(types.ConversationState{
		UserID:  userID,
		State:   types.StateWaitingPaymentConfirmation,
		Pending: &types.PendingSelection{Server: "Finland"},
	})

	out, err := e.wf.Handle(context.Background(), approve())
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, OutcomeFailed, out)
	assert.Zero(t, e.prov.TotalCalls())
	assert.Equal(t, types.StateStart, e.state(t))

	ops := e.notifier.To(operatorID)
	require.NotEmpty(t, ops)
	assert.Equal(t, messages.OperatorUserMissing(userID, "Finland"), ops[0].Text)
}

func TestCreatedClientMissingFromListing(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	e.prov.HideCreated = true

	out, err := e.wf.Handle(context.Background(), approve())
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, types.StateStart, e.state(t))
	assert.Len(t, e.store.Subscriptions(userID, "Finland"), 1, "no rollback on inconsistency")
	assert.Zero(t, e.notifier.PhotoCount())
}

func TestUnknownServer(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)

	out, err := e.wf.Handle(context.Background(), Action{Decision: types.DecisionApprove, UserID: userID, Server: "Mars"})
	require.ErrorIs(t, err, ErrUnknownServer)
	assert.Equal(t, OutcomeUnknownServer, out)
	assert.Equal(t, types.StateWaitingPaymentConfirmation, e.state(t))
	assert.Zero(t, e.prov.TotalCalls())
}

func TestBusyWhenLocked(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	locker := store.NewLocalLocker()
	e.wf.locker = locker
	unlock, ok, err := locker.TryLock(context.Background(), "approval:42:Finland")
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	out, err := e.wf.Handle(context.Background(), approve())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, out)
	assert.Equal(t, types.StateWaitingPaymentConfirmation, e.state(t))
}

func TestCancelledApprovalIsReleased(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.prov.OnAuthenticate = cancel

	out, err := e.wf.Handle(ctx, approve())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeRetryable, out)
	assert.Equal(t, types.StateWaitingPaymentConfirmation, e.state(t), "claim released after cancellation")
	assert.Empty(t, e.store.Subscriptions(userID, "Finland"), "payment record rolled back")

	e.prov.OnAuthenticate = nil
	out, err = e.wf.Handle(context.Background(), approve())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, out)
	assert.Equal(t, types.StateStart, e.state(t))
}

func TestRestartReturnsInterruptedApproval(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	ctx := context.Background()
	claimed, err := e.store.CompareAndSetState(ctx, userID, types.StateWaitingPaymentConfirmation, types.StateProcessingApproval)
	require.NoError(t, err)
	require.True(t, claimed)

	out, err := e.wf.Handle(ctx, approve())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, out, "a live claim blocks the decision")

	e.restart(t)
	assert.Equal(t, types.StateWaitingPaymentConfirmation, e.state(t))

	out, err = e.wf.Handle(ctx, approve())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, out)
	assert.Equal(t, types.StateStart, e.state(t))
	assert.Len(t, e.store.Subscriptions(userID, "Finland"), 1)
}

func TestConfigFailureCanBeResent(t *testing.T) {
	e := newEnv(t)
	e.waiting(t)
	e.prov.ConfigErr = fakes.ErrFake
	ctx := context.Background()

	out, err := e.wf.Handle(ctx, approve())
	require.ErrorIs(t, err, fakes.ErrFake)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, types.StateStart, e.state(t))
	assert.Zero(t, e.notifier.PhotoCount())
	ops := e.notifier.To(operatorID)
	require.NotEmpty(t, ops)
	assert.Equal(t, messages.OperatorConfigFailed(userID, "Finland"), ops[len(ops)-1].Text)

	e.prov.ConfigErr = nil
	require.NoError(t, e.wf.Resend(ctx, userID, "Finland"))
	assert.Equal(t, 1, e.prov.Calls("CreateClient"), "the existing client is reused")
	assert.Equal(t, 1, e.notifier.PhotoCount())
	last, ok := e.notifier.Last(userID)
	require.True(t, ok)
	assert.Contains(t, last.Text, "[Interface]")
	assert.Len(t, e.store.Subscriptions(userID, "Finland"), 1)
}

func TestResendErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.ErrorIs(t, e.wf.Resend(ctx, userID, "Mars"), ErrUnknownServer)
	require.ErrorIs(t, e.wf.Resend(ctx, userID, "Finland"), fakes.ErrFake, "no client to resend")
	assert.Zero(t, e.notifier.PhotoCount())
}
