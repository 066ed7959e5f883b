// Package metrics 提供 Prometheus 指标（各进程共用一个 Registry）
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 应用自定义指标的注册表
var Registry = prometheus.NewRegistry()

var (
	ingestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plateful",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "MQTT plate readings received, by outcome.",
		},
		[]string{"outcome"},
	)

	readingsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plateful",
			Subsystem: "pipeline",
			Name:      "readings_total",
			Help:      "Plate readings handled by the processor, by outcome.",
		},
		[]string{"outcome"},
	)

	readingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "plateful",
			Subsystem: "pipeline",
			Name:      "reading_duration_seconds",
			Help:      "Duration of one plate reading transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	mealsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plateful",
			Subsystem: "pipeline",
			Name:      "meals_completed_total",
			Help:      "Meals marked completed by the evaluator.",
		},
	)

	deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plateful",
			Subsystem: "stream",
			Name:      "dead_letters_total",
			Help:      "Messages moved to the dead letter stream, by reason.",
		},
		[]string{"stream", "reason"},
	)

	triggersHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plateful",
			Subsystem: "analytics",
			Name:      "triggers_total",
			Help:      "Analytics triggers handled, by outcome.",
		},
		[]string{"outcome"},
	)

	relayPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plateful",
			Subsystem: "analytics",
			Name:      "relay_published_total",
			Help:      "Outbox rows republished by the relay.",
		},
	)
)

func init() {
	Registry.MustRegister(
		ingestMessages,
		readingsProcessed,
		readingDuration,
		mealsCompleted,
		deadLetters,
		triggersHandled,
		relayPublished,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler 暴露已注册指标
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordIngest outcome: accepted / rejected / rate_limited / publish_failed
func RecordIngest(outcome string) {
	ingestMessages.WithLabelValues(outcome).Inc()
}

// RecordReading 记录一次读数处理
func RecordReading(outcome string, d time.Duration) {
	readingsProcessed.WithLabelValues(outcome).Inc()
	readingDuration.Observe(d.Seconds())
}

func RecordMealCompleted() {
	mealsCompleted.Inc()
}

func RecordDeadLetter(stream, reason string) {
	deadLetters.WithLabelValues(stream, reason).Inc()
}

func RecordTrigger(outcome string) {
	triggersHandled.WithLabelValues(outcome).Inc()
}

func RecordRelayPublished(n int) {
	relayPublished.Add(float64(n))
}
