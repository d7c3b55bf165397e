// Package metrics exports link activity as prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigbag/uartl/internal/uartl"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "uartl").
	Namespace string

	// ConstLabels are added to every metric, e.g. the port name.
	ConstLabels prometheus.Labels

	// Registry is where the metrics are registered.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets labels added to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets a custom registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Collector implements uartl.Observer on top of prometheus counters.
type Collector struct {
	transitions     *prometheus.CounterVec
	framesReceived  prometheus.Counter
	bytesReceived   prometheus.Counter
	framesDropped   *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
}

var _ uartl.Observer = (*Collector)(nil)

// New registers the link metrics and returns a collector feeding them.
// Registering twice on the same registry panics.
func New(opts ...Option) *Collector {
	config := Config{
		Namespace: "uartl",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "state_transitions_total",
			Help:        "Link state transitions by target state.",
			ConstLabels: config.ConstLabels,
		}, []string{"to"}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "frames_received_total",
			Help:        "Frames completed into the receive slot.",
			ConstLabels: config.ConstLabels,
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "frame_bytes_received_total",
			Help:        "Payload bytes of completed frames.",
			ConstLabels: config.ConstLabels,
		}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "frames_dropped_total",
			Help:        "Frames discarded by the decoder.",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),
		transportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "transport_errors_total",
			Help:        "Channel errors by operation.",
			ConstLabels: config.ConstLabels,
		}, []string{"op"}),
	}
}

func (c *Collector) StateChanged(from, to uartl.State) {
	c.transitions.WithLabelValues(to.String()).Inc()
}

func (c *Collector) FrameCompleted(size int) {
	c.framesReceived.Inc()
	c.bytesReceived.Add(float64(size))
}

func (c *Collector) FrameDropped(reason uartl.DropReason) {
	c.framesDropped.WithLabelValues(reason.String()).Inc()
}

func (c *Collector) TransportError(op string, err error) {
	c.transportErrors.WithLabelValues(op).Inc()
}
