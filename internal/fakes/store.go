// Package fakes holds in-memory stand-ins for the store, wg-easy and Telegram,
// used by package tests.
package fakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BatmanBruc/wgshop-bot/types"
)

// MemoryStore mirrors PostgresStore in memory. Like a pgx query, every call
// fails once its context is done.
type MemoryStore struct {
	mu     sync.Mutex
	users  map[int64]types.User
	states map[int64]types.ConversationState
	subs   map[int64]types.Subscription
	nextID int64

	// SaveStateErr, when set, is returned by SaveState.
	SaveStateErr error
}

var _ types.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]types.User),
		states: make(map[int64]types.ConversationState),
		subs:   make(map[int64]types.Subscription),
	}
}

func (s *MemoryStore) AddUser(ctx context.Context, chatID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.users[chatID]; !ok {
		s.users[chatID] = types.User{ChatID: chatID, DateStart: at}
	}
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, chatID int64) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, ok := s.users[chatID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) SaveState(ctx context.Context, st types.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.SaveStateErr != nil {
		return s.SaveStateErr
	}
	st.UpdatedAt = time.Now()
	s.states[st.UserID] = copyState(st)
	return nil
}

func (s *MemoryStore) GetState(ctx context.Context, userID int64) (*types.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, ok := s.states[userID]
	if !ok {
		return nil, types.ErrNotFound
	}
	st = copyState(st)
	return &st, nil
}

func (s *MemoryStore) LoadStates(ctx context.Context) ([]types.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]types.ConversationState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, copyState(st))
	}
	return out, nil
}

func (s *MemoryStore) CompareAndSetState(ctx context.Context, userID int64, from, to types.ChatState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	st, ok := s.states[userID]
	if !ok || st.State != from {
		return false, nil
	}
	st.State = to
	st.UpdatedAt = time.Now()
	s.states[userID] = st
	return true, nil
}

func (s *MemoryStore) AddSubscription(ctx context.Context, userID int64, server string, paidAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.nextID++
	s.subs[s.nextID] = types.Subscription{ID: s.nextID, UserID: userID, Server: server, DatePaid: paidAt}
	return s.nextID, nil
}

func (s *MemoryStore) DeleteSubscription(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(s.subs, id)
	return nil
}

func (s *MemoryStore) DeleteSubscriptions(ctx context.Context, userID int64, server string, paidUpTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, sub := range s.subs {
		if sub.UserID == userID && sub.Server == server && !sub.DatePaid.After(paidUpTo) {
			delete(s.subs, id)
		}
	}
	return nil
}

func (s *MemoryStore) LastPayment(ctx context.Context, userID int64, server string) (*types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var last *types.Subscription
	for _, sub := range s.subs {
		if sub.UserID != userID || sub.Server != server {
			continue
		}
		if last == nil || sub.DatePaid.After(last.DatePaid) {
			sub := sub
			last = &sub
		}
	}
	if last == nil {
		return nil, types.ErrNotFound
	}
	return last, nil
}

func (s *MemoryStore) HasActiveSubscription(ctx context.Context, userID int64, server string, paidAfter time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.Server == server && sub.DatePaid.After(paidAfter) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListLapsed(ctx context.Context, server string, paidBefore time.Time) ([]types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	latest := make(map[int64]types.Subscription)
	for _, sub := range s.subs {
		if sub.Server != server {
			continue
		}
		if cur, ok := latest[sub.UserID]; !ok || sub.DatePaid.After(cur.DatePaid) {
			latest[sub.UserID] = sub
		}
	}
	var out []types.Subscription
	for _, sub := range latest {
		if !sub.DatePaid.After(paidBefore) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DatePaid.Before(out[j].DatePaid) })
	return out, nil
}

// Subscriptions returns every stored payment for (user, server).
func (s *MemoryStore) Subscriptions(userID int64, server string) []types.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.Server == server {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetState writes a state directly, bypassing any machine.
func (s *MemoryStore) SetState(st types.ConversationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.UserID] = copyState(st)
}

func copyState(st types.ConversationState) types.ConversationState {
	if st.Pending != nil {
		p := *st.Pending
		st.Pending = &p
	}
	return st
}
