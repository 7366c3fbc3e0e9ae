package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// metrics shared across packages are defined and initialized here.

var (
	// StageLabelBMC is the label included in metrics recorded by the BMC tools.
	StageLabelBMC = prometheus.Labels{"stage": "bmc"}

	// StageLabelMailbot is the label included in metrics recorded by the mail relay bot.
	StageLabelMailbot = prometheus.Labels{"stage": "mailbot"}

	// HostsSwept counts the addresses pinged, labelled by outcome.
	HostsSwept *prometheus.CounterVec

	// BMCOperations counts BMC password operations, labelled by operation and outcome.
	BMCOperations *prometheus.CounterVec

	// BMCOperationTimeSummary measures the time spent on a BMC password operation.
	BMCOperationTimeSummary *prometheus.SummaryVec

	// MessagesProcessed counts the sent mail messages marked processed.
	MessagesProcessed *prometheus.CounterVec

	// ImagesForwarded counts the images delivered to a chat.
	ImagesForwarded *prometheus.CounterVec

	// SendErrors counts failed deliveries to a chat.
	SendErrors *prometheus.CounterVec

	// ChatsDeactivated counts chats deactivated after the API reported them missing.
	ChatsDeactivated *prometheus.CounterVec

	// FetchErrors counts mailbox fetches that failed after all retries.
	FetchErrors *prometheus.CounterVec
)

func init() {
	HostsSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolshed_hosts_swept_total",
			Help: "A counter metric to measure the total count of addresses pinged in a sweep",
		},
		[]string{"stage", "outcome"},
	)

	BMCOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolshed_bmc_operations_total",
			Help: "A counter metric to measure the total count of BMC password operations",
		},
		[]string{"stage", "operation", "outcome"},
	)

	BMCOperationTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "toolshed_bmc_operation_duration_seconds",
			Help: "A summary metric to measure the duration of BMC password operations",
		},
		[]string{"stage", "operation"},
	)

	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolshed_mailbot_messages_processed_total",
			Help: "A counter metric to measure the total count of sent mail messages processed",
		},
		[]string{"stage"},
	)

	ImagesForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolshed_mailbot_images_forwarded_total",
			Help: "A counter metric to measure the total count of images sent to chats",
		},
		[]string{"stage"},
	)

	SendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolshed_mailbot_send_errors_total",
			Help: "A counter metric to measure the total count of failed image deliveries",
		},
		[]string{"stage"},
	)

	ChatsDeactivated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolshed_mailbot_chats_deactivated_total",
			Help: "A counter metric to measure the total count of chats deactivated",
		},
		[]string{"stage"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolshed_mailbot_fetch_errors_total",
			Help: "A counter metric to measure the total count of mailbox fetch failures",
		},
		[]string{"stage"},
	)
}

// ListenAndServe exposes prometheus metrics as /metrics on the given address.
func ListenAndServe(addr string, logger *logrus.Logger) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 2 * time.Second, // nolint:gomnd // time duration value is clear as is.
		}

		if err := server.ListenAndServe(); err != nil {
			logger.WithField("component", "metrics").WithError(err).Error("metrics endpoint")
		}
	}()
}

// ObserveBMCOperation records the duration and outcome of a BMC operation.
func ObserveBMCOperation(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	BMCOperations.With(AddLabels(StageLabelBMC, prometheus.Labels{"operation": operation, "outcome": outcome})).Inc()
	BMCOperationTimeSummary.With(AddLabels(StageLabelBMC, prometheus.Labels{"operation": operation})).
		Observe(time.Since(start).Seconds())
}

// AddLabels returns a new map of labels with the current and add labels included.
func AddLabels(current, add prometheus.Labels) prometheus.Labels {
	returned := map[string]string{}

	for l, v := range current {
		returned[l] = v
	}

	for l, v := range add {
		returned[l] = v
	}

	return returned
}
