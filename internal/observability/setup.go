package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Audit is the structured audit logger for admission outcomes. It is
// separate from the human-oriented logrus stream so admission verdicts stay
// machine-greppable.
var Audit *zap.Logger

var (
	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admissions_total",
			Help: "Admissions by terminal outcome",
		},
		[]string{"outcome"},
	)

	screeningStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screening_stage_duration_seconds",
			Help:    "Time spent in each screening stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	workerBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deferred_worker_batch_size",
			Help:    "Rows drained per worker tick",
			Buckets: []float64{0, 1, 5, 25, 100, 500},
		},
		[]string{"store"},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	var err error
	Audit, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(admissionsTotal, screeningStageDuration, workerBatchSize)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			_ = server.Close()
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return nil
}

// RecordAdmission counts a terminal admission outcome.
func RecordAdmission(outcome string) {
	admissionsTotal.WithLabelValues(outcome).Inc()
}

// AuditAdmission writes an admission outcome to the audit stream.
func AuditAdmission(outcome string, chatID, memberID int64) {
	RecordAdmission(outcome)
	if Audit == nil {
		return
	}
	Audit.Info("admission",
		zap.String("outcome", outcome),
		zap.Int64("chat_id", chatID),
		zap.Int64("member_id", memberID),
	)
}

// StartScreeningStage times one screening stage.
func StartScreeningStage(stage string) func() {
	timer := prometheus.NewTimer(screeningStageDuration.WithLabelValues(stage))
	return func() { timer.ObserveDuration() }
}

// RecordWorkerBatch records how many rows a tick drained from a store.
func RecordWorkerBatch(store string, size int) {
	workerBatchSize.WithLabelValues(store).Observe(float64(size))
}
