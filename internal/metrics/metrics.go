package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UpdatesTotal     prometheus.Counter
	MessagesTotal    *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	SetupCompleted   prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(
			global.UpdatesTotal,
			global.MessagesTotal,
			global.ProviderRequests,
			global.ProviderLatency,
			global.SetupCompleted,
		)
	})
	return global
}

// New builds an unregistered set of collectors.
func New() *Metrics {
	return &Metrics{
		UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "telegram_updates_total",
			Help:      "Total telegram updates received",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "messages_routed_total",
			Help:      "Inbound chat messages by routing result",
		}, []string{"result"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "provider_requests_total",
			Help:      "Provider generate calls by outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatrelay",
			Name:      "provider_request_seconds",
			Help:      "Provider generate call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"provider"}),
		SetupCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "setup_completed_total",
			Help:      "Setup flows finished with a provider and model",
		}),
	}
}
