package expiry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BatmanBruc/wgshop-bot/internal/messages"
	"github.com/BatmanBruc/wgshop-bot/internal/metrics"
	"github.com/BatmanBruc/wgshop-bot/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	warnFromDays   = 30
	warnUntilDays  = 33
	removeFromDays = 33
)

// Artifacts drops cached QR images of removed clients.
type Artifacts interface {
	Remove(chatID int64, server string) error
}

type Config struct {
	Servers []types.Server
	Now     func() time.Time
}

// Report summarises one server's pass.
type Report struct {
	Server  string
	Warned  int
	Removed int
	Failed  int
	Err     error
}

type Scanner struct {
	store        types.SubscriptionStore
	provisioners types.Provisioners
	notifier     types.Notifier
	artifacts    Artifacts
	cfg          Config
}

func NewScanner(store types.SubscriptionStore, provisioners types.Provisioners, notifier types.Notifier, artifacts Artifacts, cfg Config) *Scanner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scanner{
		store:        store,
		provisioners: provisioners,
		notifier:     notifier,
		artifacts:    artifacts,
		cfg:          cfg,
	}
}

// Run warns and deprovisions lapsed subscriptions on every server. A server
// that cannot be reached is skipped and reported; the others still run.
func (s *Scanner) Run(ctx context.Context) []Report {
	reports := make([]Report, 0, len(s.cfg.Servers))
	for _, server := range s.cfg.Servers {
		if ctx.Err() != nil {
			reports = append(reports, Report{Server: server.ID, Err: ctx.Err()})
			continue
		}
		r := s.scanServer(ctx, server)
		result := "ok"
		if r.Err != nil {
			result = "error"
			if errors.Is(r.Err, errAuth) {
				result = "auth_failed"
			}
		}
		metrics.ExpiryRunsTotal.WithLabelValues(server.ID, result).Inc()
		reports = append(reports, r)
	}
	return reports
}

var errAuth = errors.New("authentication failed")

func (s *Scanner) scanServer(ctx context.Context, server types.Server) Report {
	r := Report{Server: server.ID}
	logger := log.With().Str("server", server.ID).Logger()

	prov, ok := s.provisioners.For(server.ID)
	if !ok {
		r.Err = fmt.Errorf("no provisioner for %s", server.ID)
		logger.Error().Err(r.Err).Msg("expiry scan skipped")
		return r
	}
	if err := prov.Authenticate(ctx); err != nil {
		r.Err = fmt.Errorf("%w: %v", errAuth, err)
		logger.Error().Err(err).Msg("wg-easy authentication failed, server skipped")
		return r
	}

	now := s.cfg.Now()
	lapsed, err := s.store.ListLapsed(ctx, server.ID, now.Add(-types.SubscriptionPeriod))
	if err != nil {
		r.Err = fmt.Errorf("list lapsed: %w", err)
		logger.Error().Err(err).Msg("expiry scan failed")
		return r
	}

	for _, sub := range lapsed {
		days := types.DaysSince(sub.DatePaid, now)
		name := strconv.FormatInt(sub.UserID, 10)
		ulog := logger.With().Int64("user_id", sub.UserID).Int("days", days).Logger()

		if s.renewed(ctx, sub, &r, ulog) {
			continue
		}

		if days >= warnFromDays && days <= warnUntilDays {
			if err := prov.DisableClient(ctx, name); err != nil {
				r.Failed++
				ulog.Warn().Err(err).Msg("disable client")
			}
			if err := s.notifier.Send(ctx, sub.UserID, messages.ExpiryWarning(server.Title, days), types.MenuNone); err != nil {
				r.Failed++
				ulog.Warn().Err(err).Msg("send expiry warning")
			}
			r.Warned++
			metrics.ExpiryActionsTotal.WithLabelValues(server.ID, "warn").Inc()
			ulog.Info().Msg("subscription expiry warned")
		}

		if days >= removeFromDays {
			if days <= warnUntilDays && s.renewed(ctx, sub, &r, ulog) {
				continue
			}
			if err := prov.RemoveClient(ctx, name); err != nil {
				r.Failed++
				ulog.Warn().Err(err).Msg("remove client")
			}
			if err := s.artifacts.Remove(sub.UserID, server.ID); err != nil {
				ulog.Warn().Err(err).Msg("remove qr code")
			}
			if err := s.notifier.Send(ctx, sub.UserID, messages.ExpiryRemoved(server.Title), types.MenuNone); err != nil {
				ulog.Warn().Err(err).Msg("send removal notice")
			}
			if err := s.store.DeleteSubscriptions(ctx, sub.UserID, server.ID, sub.DatePaid); err != nil {
				r.Failed++
				ulog.Error().Err(err).Msg("delete subscription records")
				continue
			}
			r.Removed++
			metrics.ExpiryActionsTotal.WithLabelValues(server.ID, "remove").Inc()
			ulog.Info().Msg("subscription removed")
		}
	}

	logger.Info().Int("warned", r.Warned).Int("removed", r.Removed).Int("failed", r.Failed).Msg("expiry scan finished")
	return r
}

// renewed reports whether (user, server) has paid again since sub was listed.
// The scan then leaves the pair alone; an unreadable state counts as a failure
// and is skipped too.
func (s *Scanner) renewed(ctx context.Context, sub types.Subscription, r *Report, logger zerolog.Logger) bool {
	last, err := s.store.LastPayment(ctx, sub.UserID, sub.Server)
	if errors.Is(err, types.ErrNotFound) {
		return false
	}
	if err != nil {
		r.Failed++
		logger.Warn().Err(err).Msg("recheck last payment")
		return true
	}
	if last.DatePaid.After(sub.DatePaid) {
		logger.Info().Time("paid_at", last.DatePaid).Msg("paid again during the scan, skipped")
		return true
	}
	return false
}
