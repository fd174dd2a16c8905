package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/wgshop-bot/types"
)

// newTestPostgres connects to POSTGRES_TEST_DSN and empties the tables.
// The tests are skipped when the variable is unset.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	truncate := func() {
		_, err := s.pool.Exec(ctx, `TRUNCATE user_states, clients, users`)
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		s.Close()
	})
	return s
}

var pgNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return pgNow.Add(-time.Duration(n) * 24 * time.Hour)
}

func TestPostgresCompareAndSetStateSingleWinner(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	require.NoError(t, s.AddUser(ctx, 42, pgNow))
	require.NoError(t, s.SaveState(ctx, types.ConversationState{
		UserID:  42,
		State:   types.StateWaitingPaymentConfirmation,
		Pending: &types.PendingSelection{Server: "Finland", Endpoint: "http://fi:51821"},
	}))

	const racers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CompareAndSetState(ctx, 42, types.StateWaitingPaymentConfirmation, types.StateProcessingApproval)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	st, err := s.GetState(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, types.StateProcessingApproval, st.State)
	require.NotNil(t, st.Pending, "the swap keeps the pending selection")
	assert.Equal(t, "Finland", st.Pending.Server)

	ok, err := s.CompareAndSetState(ctx, 42, types.StateProcessingApproval, types.StateWaitingPaymentConfirmation)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CompareAndSetState(ctx, 7, types.StateWaitingPaymentConfirmation, types.StateProcessingApproval)
	require.NoError(t, err)
	assert.False(t, ok, "no row for an unknown user")
}

func TestPostgresListLapsedUsesLatestPayment(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, s.AddUser(ctx, id, daysAgo(100)))
	}
	// 1 lapsed long ago, 2 renewed recently, 3 lapsed on Finland only.
	paid := []struct {
		user   int64
		server string
		days   int
	}{
		{1, "Finland", 60},
		{1, "Finland", 40},
		{2, "Finland", 40},
		{2, "Finland", 3},
		{3, "Finland", 31},
		{3, "USA", 1},
	}
	for _, p := range paid {
		_, err := s.AddSubscription(ctx, p.user, p.server, daysAgo(p.days))
		require.NoError(t, err)
	}

	lapsed, err := s.ListLapsed(ctx, "Finland", daysAgo(30))
	require.NoError(t, err)
	require.Len(t, lapsed, 2)
	assert.Equal(t, int64(1), lapsed[0].UserID, "oldest first")
	assert.WithinDuration(t, daysAgo(40), lapsed[0].DatePaid, time.Microsecond)
	assert.Equal(t, int64(3), lapsed[1].UserID)
	assert.WithinDuration(t, daysAgo(31), lapsed[1].DatePaid, time.Microsecond)

	lapsed, err = s.ListLapsed(ctx, "USA", daysAgo(30))
	require.NoError(t, err)
	assert.Empty(t, lapsed)
}

func TestPostgresDeleteSubscriptionsKeepsNewerPayments(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	require.NoError(t, s.AddUser(ctx, 7, daysAgo(100)))
	for _, d := range []int{40, 34, 0} {
		_, err := s.AddSubscription(ctx, 7, "Finland", daysAgo(d))
		require.NoError(t, err)
	}
	_, err := s.AddSubscription(ctx, 7, "USA", daysAgo(40))
	require.NoError(t, err)

	require.NoError(t, s.DeleteSubscriptions(ctx, 7, "Finland", daysAgo(34)))

	last, err := s.LastPayment(ctx, 7, "Finland")
	require.NoError(t, err)
	assert.WithinDuration(t, pgNow, last.DatePaid, time.Microsecond)
	lapsed, err := s.ListLapsed(ctx, "Finland", pgNow.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, lapsed, 1, "only the fresh payment is left")
	assert.Equal(t, last.ID, lapsed[0].ID)

	_, err = s.LastPayment(ctx, 7, "USA")
	require.NoError(t, err, "other servers untouched")
}

func TestPostgresPaymentLookups(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	require.NoError(t, s.AddUser(ctx, 5, daysAgo(100)))

	_, err := s.LastPayment(ctx, 5, "Finland")
	require.ErrorIs(t, err, types.ErrNotFound)

	id, err := s.AddSubscription(ctx, 5, "Finland", daysAgo(10))
	require.NoError(t, err)

	active, err := s.HasActiveSubscription(ctx, 5, "Finland", daysAgo(30))
	require.NoError(t, err)
	assert.True(t, active)
	active, err = s.HasActiveSubscription(ctx, 5, "Finland", daysAgo(5))
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, s.DeleteSubscription(ctx, id))
	_, err = s.LastPayment(ctx, 5, "Finland")
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.GetUser(ctx, 99)
	require.ErrorIs(t, err, types.ErrNotFound)
}
