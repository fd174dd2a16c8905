package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// Операторские решения по чекам
	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wgshop_approvals_total",
			Help: "Operator decisions on payment receipts by outcome",
		},
		[]string{"decision", "outcome"},
	)

	// wg-easy API
	ProvisioningRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wgshop_provisioning_requests_total",
			Help: "Total number of wg-easy API requests",
		},
		[]string{"server", "operation", "status"},
	)
	ProvisioningRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "wgshop_provisioning_request_duration_seconds",
			Help: "Duration of wg-easy API requests in seconds",
		},
		[]string{"server", "operation"},
	)

	// Проверка подписок
	ExpiryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wgshop_expiry_actions_total",
			Help: "Subscriptions warned or removed by the expiry scan",
		},
		[]string{"server", "action"},
	)
	ExpiryRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wgshop_expiry_runs_total",
			Help: "Expiry scans per server by result",
		},
		[]string{"server", "result"},
	)

	ReceiptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wgshop_receipts_total",
			Help: "Payment receipts forwarded to the operator",
		},
	)
)

var initOnce sync.Once

func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(ApprovalsTotal)
		prometheus.MustRegister(ProvisioningRequestsTotal)
		prometheus.MustRegister(ProvisioningRequestDuration)
		prometheus.MustRegister(ExpiryActionsTotal)
		prometheus.MustRegister(ExpiryRunsTotal)
		prometheus.MustRegister(ReceiptsTotal)
	})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
