package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BatmanBruc/wgshop-bot/internal/messages"
	"github.com/BatmanBruc/wgshop-bot/internal/metrics"
	"github.com/BatmanBruc/wgshop-bot/types"
	"github.com/rs/zerolog/log"
)

type Config struct {
	OperatorID   int64
	Servers      []types.Server
	PaymentURL   string
	PaymentPrice string
	// ClaimTimeout lets a new tap take over a ProcessingApproval claim that has
	// not moved for this long. Zero disables takeover. Keep it above the approval lock TTL.
	ClaimTimeout time.Duration
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// settleTimeout bounds writes that must land even after the caller's context is gone.
const settleTimeout = 10 * time.Second

// Machine drives the purchase conversation of every user. State is written to
// the store first and then to the in-memory cache, so a restart resumes exactly.
type Machine struct {
	store    types.Store
	notifier types.Notifier
	cfg      Config

	mu    sync.RWMutex
	cache map[int64]types.ConversationState
}

func NewMachine(store types.Store, notifier types.Notifier, cfg Config) *Machine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Machine{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		cache:    make(map[int64]types.ConversationState),
	}
}

// Restore loads every persisted conversation into the cache. Approvals that
// were in flight when the process died are handed back to the operator.
func (m *Machine) Restore(ctx context.Context) (int, error) {
	states, err := m.store.LoadStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore states: %w", err)
	}
	for i, st := range states {
		if st.State != types.StateProcessingApproval {
			continue
		}
		ok, err := m.store.CompareAndSetState(ctx, st.UserID, types.StateProcessingApproval, types.StateWaitingPaymentConfirmation)
		if err != nil {
			return 0, fmt.Errorf("restore states: release approval of %d: %w", st.UserID, err)
		}
		if ok {
			states[i].State = types.StateWaitingPaymentConfirmation
			log.Warn().Int64("user_id", st.UserID).Msg("interrupted approval returned to the operator")
		}
	}
	m.mu.Lock()
	for _, st := range states {
		m.cache[st.UserID] = st
	}
	m.mu.Unlock()
	return len(states), nil
}

func (m *Machine) State(ctx context.Context, userID int64) (types.ConversationState, error) {
	m.mu.RLock()
	st, ok := m.cache[userID]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}

	persisted, err := m.store.GetState(ctx, userID)
	if errors.Is(err, types.ErrNotFound) {
		return types.ConversationState{UserID: userID, State: types.StateStart}, nil
	}
	if err != nil {
		return types.ConversationState{}, err
	}
	m.remember(*persisted)
	return *persisted, nil
}

func (m *Machine) Servers() []types.Server {
	return m.cfg.Servers
}

// ServerByID returns a configured server.
func (m *Machine) ServerByID(id string) (types.Server, bool) {
	for _, s := range m.cfg.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return types.Server{}, false
}

// Start handles /start.
func (m *Machine) Start(ctx context.Context, userID int64) error {
	if err := m.store.AddUser(ctx, userID, m.cfg.Now()); err != nil {
		return fmt.Errorf("register user %d: %w", userID, err)
	}
	st, err := m.State(ctx, userID)
	if err != nil {
		return err
	}

	switch st.State {
	case types.StateWaitingPaymentConfirmation, types.StateProcessingApproval:
		return m.notifier.Send(ctx, userID, messages.ReceiptUnderReview(), types.MenuNone)
	case types.StateStart, types.StateBuying:
		if err := m.transition(ctx, types.ConversationState{UserID: userID, State: types.StateStart}); err != nil {
			return err
		}
		return m.notifier.Send(ctx, userID, messages.StartWelcome(), types.MenuMain)
	}
	return fmt.Errorf("user %d: unexpected state %q", userID, st.State)
}

// Text routes a plain text message to the matching operation.
func (m *Machine) Text(ctx context.Context, userID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == messages.ButtonCancel {
		return m.Cancel(ctx, userID)
	}
	return m.ChooseServer(ctx, userID, text)
}

// ChooseServer handles a press on one of the "Купить" buttons.
func (m *Machine) ChooseServer(ctx context.Context, userID int64, text string) error {
	st, err := m.State(ctx, userID)
	if err != nil {
		return err
	}
	server, ok := m.serverByLabel(text)
	if st.State != types.StateStart || !ok {
		return m.Unrecognized(ctx, userID)
	}

	paidAfter := m.cfg.Now().Add(-types.SubscriptionPeriod)
	active, err := m.store.HasActiveSubscription(ctx, userID, server.ID, paidAfter)
	if err != nil {
		return fmt.Errorf("check subscription %d/%s: %w", userID, server.ID, err)
	}
	if active {
		log.Debug().Int64("user_id", userID).Str("server", server.ID).Msg("active subscription, purchase refused")
		return m.notifier.Send(ctx, userID, messages.AlreadySubscribed(server.Title), types.MenuMain)
	}

	next := types.ConversationState{
		UserID:  userID,
		State:   types.StateBuying,
		Pending: &types.PendingSelection{Server: server.ID, Endpoint: server.Endpoint},
	}
	if err := m.transition(ctx, next); err != nil {
		return err
	}
	return m.notifier.Send(ctx, userID, messages.PaymentInstructions(m.cfg.PaymentPrice, m.cfg.PaymentURL), types.MenuCancel)
}

func (m *Machine) Cancel(ctx context.Context, userID int64) error {
	st, err := m.State(ctx, userID)
	if err != nil {
		return err
	}
	if st.State != types.StateBuying {
		return m.Unrecognized(ctx, userID)
	}
	if err := m.transition(ctx, types.ConversationState{UserID: userID, State: types.StateStart}); err != nil {
		return err
	}
	return m.notifier.Send(ctx, userID, messages.Cancelled(), types.MenuMain)
}

// SubmitReceipt forwards a payment proof to the operator. The user moves to
// WaitingPaymentConfirmation before the operator sees approve/reject buttons.
func (m *Machine) SubmitReceipt(ctx context.Context, userID int64, receipt types.Receipt) error {
	st, err := m.State(ctx, userID)
	if err != nil {
		return err
	}
	if st.State != types.StateBuying || st.Pending == nil || receipt.FileID == "" {
		return m.Unrecognized(ctx, userID)
	}

	waiting := st
	waiting.State = types.StateWaitingPaymentConfirmation
	if err := m.transition(ctx, waiting); err != nil {
		return err
	}

	req := types.ReviewRequest{
		UserID:      userID,
		Server:      st.Pending.Server,
		Receipt:     receipt,
		ApproveData: ActionData(types.DecisionApprove, userID, st.Pending.Server),
		RejectData:  ActionData(types.DecisionReject, userID, st.Pending.Server),
	}
	if err := m.notifier.SendReview(ctx, m.cfg.OperatorID, req); err != nil {
		if rerr := m.transition(ctx, st); rerr != nil {
			log.Error().Err(rerr).Int64("user_id", userID).Msg("failed to roll back receipt state")
		}
		return fmt.Errorf("forward receipt of %d: %w", userID, err)
	}
	metrics.ReceiptsTotal.Inc()
	log.Info().Int64("user_id", userID).Str("server", req.Server).Str("kind", string(receipt.Kind)).Msg("receipt forwarded")
	return m.notifier.Send(ctx, userID, messages.ReceiptThanks(), types.MenuNone)
}

// Unrecognized answers input that has no meaning in the current state.
func (m *Machine) Unrecognized(ctx context.Context, userID int64) error {
	log.Debug().Int64("user_id", userID).Msg("unrecognized input")
	return m.notifier.Send(ctx, userID, messages.NotUnderstood(), types.MenuNone)
}

// ClaimApproval moves userID from WaitingPaymentConfirmation to
// ProcessingApproval when the pending selection is server. Only one caller wins.
func (m *Machine) ClaimApproval(ctx context.Context, userID int64, server string) (bool, error) {
	st, err := m.store.GetState(ctx, userID)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if st.Pending == nil || st.Pending.Server != server {
		return false, nil
	}
	from := types.StateWaitingPaymentConfirmation
	if m.staleClaim(*st) {
		log.Warn().Int64("user_id", userID).Time("claimed_at", st.UpdatedAt).Msg("taking over a stale approval claim")
		from = types.StateProcessingApproval
	}
	ok, err := m.store.CompareAndSetState(ctx, userID, from, types.StateProcessingApproval)
	if err != nil || !ok {
		return false, err
	}
	return true, m.refresh(ctx, userID)
}

func (m *Machine) staleClaim(st types.ConversationState) bool {
	return m.cfg.ClaimTimeout > 0 &&
		st.State == types.StateProcessingApproval &&
		m.cfg.Now().Sub(st.UpdatedAt) > m.cfg.ClaimTimeout
}

// ReleaseApproval hands a claimed approval back so the operator can retry.
// It still runs when ctx is already cancelled.
func (m *Machine) ReleaseApproval(ctx context.Context, userID int64) error {
	ctx, cancel := settleContext(ctx)
	defer cancel()
	ok, err := m.store.CompareAndSetState(ctx, userID, types.StateProcessingApproval, types.StateWaitingPaymentConfirmation)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn().Int64("user_id", userID).Msg("release of an approval that was not claimed")
	}
	return m.refresh(ctx, userID)
}

// Complete ends the purchase flow for userID. Like ReleaseApproval it
// outlives a cancelled ctx, so a decided approval never stays claimed.
func (m *Machine) Complete(ctx context.Context, userID int64) error {
	ctx, cancel := settleContext(ctx)
	defer cancel()
	return m.transition(ctx, types.ConversationState{UserID: userID, State: types.StateStart})
}

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func (m *Machine) transition(ctx context.Context, st types.ConversationState) error {
	st.UpdatedAt = m.cfg.Now()
	if err := m.store.SaveState(ctx, st); err != nil {
		return fmt.Errorf("save state of %d: %w", st.UserID, err)
	}
	m.remember(st)
	return nil
}

func (m *Machine) refresh(ctx context.Context, userID int64) error {
	st, err := m.store.GetState(ctx, userID)
	if err != nil {
		m.mu.Lock()
		delete(m.cache, userID)
		m.mu.Unlock()
		return err
	}
	m.remember(*st)
	return nil
}

func (m *Machine) remember(st types.ConversationState) {
	m.mu.Lock()
	m.cache[st.UserID] = st
	m.mu.Unlock()
}

func (m *Machine) serverByLabel(text string) (types.Server, bool) {
	for _, s := range m.cfg.Servers {
		if text == messages.ButtonBuy(s.Title) || text == messages.ButtonBuy(s.ID) {
			return s, true
		}
	}
	return types.Server{}, false
}

// ActionData builds the callback payload of an operator button.
func ActionData(d types.Decision, userID int64, server string) string {
	return string(d) + "_" + strconv.FormatInt(userID, 10) + "_" + server
}
