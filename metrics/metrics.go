package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

const (
	MetricsNamespace = "testsplit"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	discoveredTests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "discovered_tests",
		Help:      "Number of tests in the inventory after discovery",
	}, []string{
		"run_id",
	})

	duplicatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "discovery_duplicates_total",
		Help:      "Count of duplicate test ids delivered by discovery",
	}, []string{
		"run_id",
	})

	runRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_requests_total",
		Help:      "Count of run requests issued to the engine",
	}, []string{
		"mode",
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "outcomes_total",
		Help:      "Count of test outcomes received",
	}, []string{
		"mode",
		"outcome",
	})

	coalescedBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "possibly_coalesced_batches_total",
		Help:      "Count of batches whose results could not be reliably attributed",
	}, []string{
		"mode",
	})

	engineErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "engine_errors_total",
		Help:      "Count of engine errors by class",
	}, []string{
		"class",
	})

	batchDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "batch_duration_seconds",
		Help:      "Duration of the last run of each batch",
	}, []string{
		"run_id",
		"mode",
		"batch",
	})

	modeDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "mode_duration_seconds",
		Help:      "Duration of the last run of each execution mode",
	}, []string{
		"run_id",
		"mode",
		"status",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordDiscovery(runID string, total int, duplicates int) {
	discoveredTests.WithLabelValues(runID).Set(float64(total))
	if duplicates > 0 {
		duplicatesDropped.WithLabelValues(runID).Add(float64(duplicates))
	}
}

func RecordRunRequest(mode string) {
	runRequestsTotal.WithLabelValues(mode).Inc()
}

func RecordOutcome(mode string, outcome types.OutcomeKind) {
	if !outcome.IsValid() {
		log.Error("RecordOutcome - invalid outcome", "outcome", outcome)
		return
	}
	outcomesTotal.WithLabelValues(mode, string(outcome)).Inc()
}

func RecordPossiblyCoalesced(mode string) {
	if Debug {
		log.Debug("metric inc",
			"m", "possibly_coalesced_batches_total",
			"mode", mode,
		)
	}
	coalescedBatchesTotal.WithLabelValues(mode).Inc()
}

// RecordEngineError counts an engine error under its class, e.g. unreachable or protocol
func RecordEngineError(class string) {
	engineErrorsTotal.WithLabelValues(class).Inc()
}

func RecordBatch(runID string, mode string, batch int, duration time.Duration) {
	batchDuration.WithLabelValues(runID, mode, fmt.Sprint(batch)).Set(duration.Seconds())
}

func RecordMode(runID string, mode string, status string, duration time.Duration) {
	modeDuration.WithLabelValues(runID, mode, status).Set(duration.Seconds())
}
