package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BatmanBruc/wgshop-bot/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

const queryTimeout = 5 * time.Second

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ types.Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return err
	}
	log.Debug().Msg("postgres migrations applied")
	return nil
}

func (s *PostgresStore) AddUser(ctx context.Context, chatID int64, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (chat_id, date_start)
VALUES ($1, $2)
ON CONFLICT (chat_id) DO NOTHING
`, chatID, at.UTC())
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, chatID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var u types.User
	err := s.pool.QueryRow(ctx, `
SELECT chat_id, date_start
FROM users
WHERE chat_id = $1
`, chatID).Scan(&u.ChatID, &u.DateStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, st types.ConversationState) error {
	if !st.State.Valid() {
		return fmt.Errorf("save state: invalid state %q", st.State)
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var server, endpoint *string
	if st.Pending != nil {
		server = &st.Pending.Server
		endpoint = &st.Pending.Endpoint
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_states (user_id, state, server, endpoint, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (user_id) DO UPDATE SET
  state = EXCLUDED.state,
  server = EXCLUDED.server,
  endpoint = EXCLUDED.endpoint,
  updated_at = NOW()
`, st.UserID, string(st.State), server, endpoint)
	return err
}

func (s *PostgresStore) GetState(ctx context.Context, userID int64) (*types.ConversationState, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	row := s.pool.QueryRow(ctx, `
SELECT user_id, state, server, endpoint, updated_at
FROM user_states
WHERE user_id = $1
`, userID)
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) LoadStates(ctx context.Context) ([]types.ConversationState, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*queryTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT user_id, state, server, endpoint, updated_at
FROM user_states
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ConversationState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			log.Warn().Err(err).Msg("skipping unreadable conversation state")
			continue
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CompareAndSetState(ctx context.Context, userID int64, from, to types.ChatState) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE user_states
SET state = $3, updated_at = NOW()
WHERE user_id = $1 AND state = $2
`, userID, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) AddSubscription(ctx context.Context, userID int64, server string, paidAt time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO clients (user_id, server, date_payed)
VALUES ($1, $2, $3)
RETURNING id
`, userID, server, paidAt.UTC()).Scan(&id)
	return id, err
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DeleteSubscriptions(ctx context.Context, userID int64, server string, paidUpTo time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
DELETE FROM clients
WHERE user_id = $1 AND server = $2 AND date_payed <= $3
`, userID, server, paidUpTo.UTC())
	return err
}

func (s *PostgresStore) LastPayment(ctx context.Context, userID int64, server string) (*types.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var sub types.Subscription
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, server, date_payed
FROM clients
WHERE user_id = $1 AND server = $2
ORDER BY date_payed DESC
LIMIT 1
`, userID, server).Scan(&sub.ID, &sub.UserID, &sub.Server, &sub.DatePaid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) HasActiveSubscription(ctx context.Context, userID int64, server string, paidAfter time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var ok bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(
  SELECT 1
  FROM clients
  WHERE user_id = $1
    AND server = $2
    AND date_payed > $3
)
`, userID, server, paidAfter.UTC()).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) ListLapsed(ctx context.Context, server string, paidBefore time.Time) ([]types.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*queryTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, server, date_payed
FROM (
  SELECT DISTINCT ON (user_id) id, user_id, server, date_payed
  FROM clients
  WHERE server = $1
  ORDER BY user_id, date_payed DESC
) latest
WHERE date_payed <= $2
ORDER BY date_payed
`, server, paidBefore.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Subscription
	for rows.Next() {
		var sub types.Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Server, &sub.DatePaid); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanState(row pgx.Row) (*types.ConversationState, error) {
	var (
		st               types.ConversationState
		tag              string
		server, endpoint *string
	)
	if err := row.Scan(&st.UserID, &tag, &server, &endpoint, &st.UpdatedAt); err != nil {
		return nil, err
	}
	state, err := types.ParseChatState(tag)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", st.UserID, err)
	}
	st.State = state
	if server != nil && *server != "" {
		st.Pending = &types.PendingSelection{Server: *server}
		if endpoint != nil {
			st.Pending.Endpoint = *endpoint
		}
	}
	return &st, nil
}
