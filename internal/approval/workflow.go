package approval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BatmanBruc/wgshop-bot/internal/messages"
	"github.com/BatmanBruc/wgshop-bot/internal/metrics"
	"github.com/BatmanBruc/wgshop-bot/internal/qr"
	"github.com/BatmanBruc/wgshop-bot/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Outcome is what an operator tap resulted in.
type Outcome string

const (
	OutcomeApproved         Outcome = "approved"
	OutcomeRenewed          Outcome = "renewed"
	OutcomeRejected         Outcome = "rejected"
	OutcomeBusy             Outcome = "busy"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeUnknownServer    Outcome = "unknown_server"
	// OutcomeRetryable leaves the user waiting so the operator can tap again.
	OutcomeRetryable Outcome = "retryable"
	// OutcomeFailed closed the flow without a working client.
	OutcomeFailed Outcome = "failed"
)

// Conversation is the part of the state machine the workflow drives.
type Conversation interface {
	ServerByID(id string) (types.Server, bool)
	ClaimApproval(ctx context.Context, userID int64, server string) (bool, error)
	ReleaseApproval(ctx context.Context, userID int64) error
	Complete(ctx context.Context, userID int64) error
}

// Artifacts stores rendered QR images.
type Artifacts interface {
	Save(chatID int64, server string, png []byte) (string, error)
}

const cleanupTimeout = 10 * time.Second

type Config struct {
	OperatorID   int64
	SupportEmail string
	Now          func() time.Time
}

type Workflow struct {
	conv         Conversation
	store        types.Store
	provisioners types.Provisioners
	notifier     types.Notifier
	locker       types.Locker
	encoder      qr.Encoder
	artifacts    Artifacts
	cfg          Config
}

func NewWorkflow(conv Conversation, store types.Store, provisioners types.Provisioners, notifier types.Notifier,
	locker types.Locker, encoder qr.Encoder, artifacts Artifacts, cfg Config) *Workflow {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Workflow{
		conv:         conv,
		store:        store,
		provisioners: provisioners,
		notifier:     notifier,
		locker:       locker,
		encoder:      encoder,
		artifacts:    artifacts,
		cfg:          cfg,
	}
}

// Handle applies an operator decision. Work on one (user, server) pair is
// serialised by the locker and by the Waiting -> Processing claim, so a
// repeated tap never provisions twice.
func (w *Workflow) Handle(ctx context.Context, a Action) (outcome Outcome, err error) {
	logger := log.With().Int64("user_id", a.UserID).Str("server", a.Server).Str("decision", string(a.Decision)).Logger()
	defer func() {
		metrics.ApprovalsTotal.WithLabelValues(string(a.Decision), string(outcome)).Inc()
	}()

	server, ok := w.conv.ServerByID(a.Server)
	if !ok {
		return OutcomeUnknownServer, fmt.Errorf("%w: %s", ErrUnknownServer, a.Server)
	}
	prov, ok := w.provisioners.For(a.Server)
	if !ok {
		return OutcomeUnknownServer, fmt.Errorf("%w: no provisioner for %s", ErrUnknownServer, a.Server)
	}

	unlock, locked, err := w.locker.TryLock(ctx, "approval:"+strconv.FormatInt(a.UserID, 10)+":"+a.Server)
	if err != nil {
		return OutcomeRetryable, fmt.Errorf("lock approval: %w", err)
	}
	if !locked {
		logger.Debug().Msg("approval already in progress")
		return OutcomeBusy, nil
	}
	defer unlock()

	claimed, err := w.conv.ClaimApproval(ctx, a.UserID, a.Server)
	if err != nil {
		return OutcomeRetryable, fmt.Errorf("claim approval: %w", err)
	}
	if !claimed {
		logger.Debug().Msg("stale or duplicate decision ignored")
		return OutcomeAlreadyProcessed, nil
	}

	if a.Decision == types.DecisionReject {
		w.send(ctx, a.UserID, messages.Rejected(w.cfg.SupportEmail), types.MenuNone)
		w.finish(ctx, a, messages.RejectedCaption(a.UserID, a.Server))
		logger.Info().Msg("payment rejected")
		return OutcomeRejected, nil
	}

	return w.approve(ctx, a, server, prov, logger)
}

func (w *Workflow) approve(ctx context.Context, a Action, server types.Server, prov types.Provisioner, logger zerolog.Logger) (Outcome, error) {
	if _, err := w.store.GetUser(ctx, a.UserID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			logger.Error().Msg("approved user is not registered")
			w.send(ctx, w.cfg.OperatorID, messages.OperatorUserMissing(a.UserID, a.Server), types.MenuNone)
			w.finish(ctx, a, messages.FailedCaption(a.UserID, a.Server))
			return OutcomeFailed, fmt.Errorf("user %d: %w", a.UserID, err)
		}
		return w.retry(ctx, a, logger, fmt.Errorf("load user: %w", err))
	}

	name := strconv.FormatInt(a.UserID, 10)
	now := w.cfg.Now()

	if renewed := w.tryRenew(ctx, a, prov, name, now, logger); renewed {
		w.send(ctx, a.UserID, messages.Renewed(), types.MenuNone)
		w.finish(ctx, a, messages.ApprovedCaption(a.UserID, a.Server))
		logger.Info().Msg("subscription renewed")
		return OutcomeRenewed, nil
	}

	subID, err := w.store.AddSubscription(ctx, a.UserID, a.Server, now)
	if err != nil {
		return w.retry(ctx, a, logger, fmt.Errorf("record payment: %w", err))
	}

	if err := prov.Authenticate(ctx); err != nil {
		w.compensate(ctx, subID, logger)
		return w.retry(ctx, a, logger, err)
	}
	if err := prov.CreateClient(ctx, name); err != nil {
		w.compensate(ctx, subID, logger)
		return w.retry(ctx, a, logger, fmt.Errorf("create client: %w", err))
	}

	client, err := prov.FindClientByName(ctx, name)
	if err != nil {
		logger.Error().Err(err).Msg("created client is missing from the listing")
		w.send(ctx, a.UserID, messages.ClientNotFound(), types.MenuNone)
		w.send(ctx, w.cfg.OperatorID, messages.OperatorClientMissing(a.UserID, a.Server), types.MenuNone)
		w.finish(ctx, a, messages.FailedCaption(a.UserID, a.Server))
		return OutcomeFailed, fmt.Errorf("find created client: %w", err)
	}

	conf, err := prov.Config(ctx, client.ID)
	if err != nil {
		logger.Error().Err(err).Str("client_id", client.ID).Msg("fetch client configuration")
		w.send(ctx, a.UserID, messages.ConfigFetchFailed(), types.MenuNone)
		w.send(ctx, w.cfg.OperatorID, messages.OperatorConfigFailed(a.UserID, a.Server), types.MenuNone)
		w.finish(ctx, a, messages.FailedCaption(a.UserID, a.Server))
		return OutcomeFailed, fmt.Errorf("fetch config: %w", err)
	}

	w.deliver(ctx, a.UserID, server, conf, logger)
	w.finish(ctx, a, messages.ApprovedCaption(a.UserID, a.Server))
	logger.Info().Str("client_id", client.ID).Msg("client provisioned")
	return OutcomeApproved, nil
}

// Resend delivers the configuration of the user's existing client again. The
// operator uses it when delivery failed after the client was created.
func (w *Workflow) Resend(ctx context.Context, userID int64, serverID string) error {
	logger := log.With().Int64("user_id", userID).Str("server", serverID).Logger()
	server, ok := w.conv.ServerByID(serverID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}
	prov, ok := w.provisioners.For(serverID)
	if !ok {
		return fmt.Errorf("%w: no provisioner for %s", ErrUnknownServer, serverID)
	}

	if err := prov.Authenticate(ctx); err != nil {
		return err
	}
	client, err := prov.FindClientByName(ctx, strconv.FormatInt(userID, 10))
	if err != nil {
		return fmt.Errorf("find client: %w", err)
	}
	conf, err := prov.Config(ctx, client.ID)
	if err != nil {
		return fmt.Errorf("fetch config: %w", err)
	}
	w.deliver(ctx, userID, server, conf, logger)
	logger.Info().Str("client_id", client.ID).Msg("client configuration resent")
	return nil
}

// tryRenew re-enables the existing client when the last payment is inside
// the renewal window. Any failure falls back to a fresh client.
func (w *Workflow) tryRenew(ctx context.Context, a Action, prov types.Provisioner, name string, now time.Time, logger zerolog.Logger) bool {
	last, err := w.store.LastPayment(ctx, a.UserID, a.Server)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			logger.Warn().Err(err).Msg("load last payment")
		}
		return false
	}
	days := types.DaysSince(last.DatePaid, now)
	if !InRenewalWindow(days) {
		return false
	}

	err = func() error {
		if err := prov.Authenticate(ctx); err != nil {
			return err
		}
		client, err := prov.FindClientByName(ctx, name)
		if err != nil {
			return err
		}
		return prov.EnableClient(ctx, client.ID)
	}()
	if err != nil {
		logger.Warn().Err(err).Int("days", days).Msg("renewal failed, creating a new client")
		w.send(ctx, a.UserID, messages.EnableFailed(), types.MenuNone)
		return false
	}

	if _, err := w.store.AddSubscription(ctx, a.UserID, a.Server, now); err != nil {
		logger.Error().Err(err).Msg("client re-enabled but payment not recorded")
	}
	return true
}

// InRenewalWindow reports whether days since the last payment fall in [30, 33).
func InRenewalWindow(days int) bool {
	period := int(types.SubscriptionPeriod / (24 * time.Hour))
	grace := int(types.RenewalGrace / (24 * time.Hour))
	return days >= period && days < period+grace
}

func (w *Workflow) deliver(ctx context.Context, userID int64, server types.Server, conf string, logger zerolog.Logger) {
	png, err := w.encoder.Encode(conf)
	if err != nil {
		logger.Error().Err(err).Msg("render qr code")
	} else {
		if _, err := w.artifacts.Save(userID, server.ID, png); err != nil {
			logger.Warn().Err(err).Msg("cache qr code")
		}
		if err := w.notifier.SendPhoto(ctx, userID, qr.FileName(userID, server.ID), png, messages.QRCaption()); err != nil {
			logger.Error().Err(err).Msg("send qr code")
		}
	}
	w.send(ctx, userID, messages.ClientConfig(server.Title, conf), types.MenuNone)
}

// retry releases the claim so the operator can tap approve again.
func (w *Workflow) retry(ctx context.Context, a Action, logger zerolog.Logger, cause error) (Outcome, error) {
	ctx, cancel := detach(ctx)
	defer cancel()
	logger.Error().Err(cause).Msg("approval failed, claim released")
	if err := w.conv.ReleaseApproval(ctx, a.UserID); err != nil {
		logger.Error().Err(err).Msg("release approval")
	}
	w.send(ctx, a.UserID, messages.ProvisioningFailed(), types.MenuNone)
	w.send(ctx, w.cfg.OperatorID, messages.OperatorProvisioningFailed(a.UserID, a.Server, cause), types.MenuNone)
	return OutcomeRetryable, cause
}

func (w *Workflow) compensate(ctx context.Context, subID int64, logger zerolog.Logger) {
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := w.store.DeleteSubscription(ctx, subID); err != nil {
		logger.Error().Err(err).Int64("subscription_id", subID).Msg("compensating delete failed")
	}
}

// finish returns the user to Start with the main menu and closes the operator's card.
func (w *Workflow) finish(ctx context.Context, a Action, caption string) {
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := w.conv.Complete(ctx, a.UserID); err != nil {
		log.Error().Err(err).Int64("user_id", a.UserID).Msg("complete conversation")
	}
	w.send(ctx, a.UserID, messages.ChooseAgain(), types.MenuMain)
	if a.Review != nil {
		if err := w.notifier.EditCaption(ctx, *a.Review, caption); err != nil {
			log.Warn().Err(err).Int64("user_id", a.UserID).Msg("edit review caption")
		}
	}
}

// detach keeps cleanup and notifications alive after the tap's context ends.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func (w *Workflow) send(ctx context.Context, chatID int64, text string, menu types.Menu) {
	if err := w.notifier.Send(ctx, chatID, text, menu); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}
