package metrics

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arnabghosh/chat-queue/internal/mq"
)

const namespace = "chatqueue"

const defaultScrapeTimeout = 2 * time.Second

// StatsSource is the part of the queue service the collector reads
type StatsSource interface {
	Name() string
	IsHealthy(ctx context.Context) bool
	GetStats(ctx context.Context, queueName string) (mq.QueueStats, error)
}

// QueueCollector exports queue statistics on every scrape.
// Stats are read from the provider at collection time, so the values are
// shared by every instance that uses the same store.
type QueueCollector struct {
	source  StatsSource
	queues  func() []string
	timeout time.Duration
	logger  *slog.Logger

	up             *prometheus.Desc
	messages       *prometheus.Desc
	messagesTotal  *prometheus.Desc
	avgProcessing  *prometheus.Desc
	scrapeFailures *prometheus.Desc
}

var _ prometheus.Collector = (*QueueCollector)(nil)

// NewQueueCollector creates a collector for the queues returned by queues.
// The aggregate over every queue the provider knows is always exported under
// queue="_all".
func NewQueueCollector(source StatsSource, queues func() []string, logger *slog.Logger) *QueueCollector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if queues == nil {
		queues = func() []string { return nil }
	}
	return &QueueCollector{
		source:  source,
		queues:  queues,
		timeout: defaultScrapeTimeout,
		logger:  logger.With("component", "metrics"),

		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"Whether the queue provider is connected and reachable.",
			[]string{"provider"}, nil,
		),
		messages: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "messages"),
			"Messages currently held by the queue, by state.",
			[]string{"queue", "state"}, nil,
		),
		messagesTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "messages_total"),
			"Messages seen by the queue, by outcome.",
			[]string{"queue", "outcome"}, nil,
		),
		avgProcessing: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "avg_processing_seconds"),
			"Mean handler time of completed deliveries.",
			[]string{"queue"}, nil,
		),
		scrapeFailures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "scrape_failed"),
			"Set to 1 when statistics for the queue could not be read.",
			[]string{"queue"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.messages
	ch <- c.messagesTotal
	ch <- c.avgProcessing
	ch <- c.scrapeFailures
}

// Collect implements prometheus.Collector
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	up := 0.0
	if c.source.IsHealthy(ctx) {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up, c.source.Name())

	c.collectQueue(ctx, ch, "_all", "")
	for _, name := range c.queues() {
		c.collectQueue(ctx, ch, name, name)
	}
}

func (c *QueueCollector) collectQueue(ctx context.Context, ch chan<- prometheus.Metric, label, queueName string) {
	stats, err := c.source.GetStats(ctx, queueName)
	if err != nil {
		c.logger.Warn("Failed to collect queue stats", "queue", label, "error", err)
		ch <- prometheus.MustNewConstMetric(c.scrapeFailures, prometheus.GaugeValue, 1, label)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeFailures, prometheus.GaugeValue, 0, label)

	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.GaugeValue, float64(stats.Pending), label, "pending")
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.GaugeValue, float64(stats.Processing), label, "processing")

	ch <- prometheus.MustNewConstMetric(c.messagesTotal, prometheus.CounterValue, float64(stats.Total), label, "enqueued")
	ch <- prometheus.MustNewConstMetric(c.messagesTotal, prometheus.CounterValue, float64(stats.Completed), label, "completed")
	ch <- prometheus.MustNewConstMetric(c.messagesTotal, prometheus.CounterValue, float64(stats.Failed), label, "dead_lettered")
	ch <- prometheus.MustNewConstMetric(c.messagesTotal, prometheus.CounterValue, float64(stats.Retried), label, "retried")

	ch <- prometheus.MustNewConstMetric(c.avgProcessing, prometheus.GaugeValue, stats.AvgProcessingTime.Seconds(), label)
}
