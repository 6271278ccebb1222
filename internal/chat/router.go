package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/conversation"
	"chatrelay/internal/credentials"
	"chatrelay/internal/metrics"
	"chatrelay/internal/providers"
	"chatrelay/internal/providers/registry"
)

const (
	NoProviderMessage    = "❌ No AI selected! Use /start"
	notConfiguredMessage = "❌ %s not configured! Use /settoken"
	BusyMessage          = "⏳ Still working on your previous message, please wait."
	rateLimitedMessage   = "⏳ Hourly message limit reached. Try again after %s UTC."
)

type Status int

const (
	StatusOK Status = iota
	StatusNoProvider
	StatusNotConfigured
	StatusBusy
	StatusRateLimited
)

// Reply is the text to send back. Provider is the adapter name and is set
// only when a provider was called.
type Reply struct {
	Status   Status
	Text     string
	Provider string
}

// Limiter caps how many messages one user may route per window.
type Limiter interface {
	Allow(ctx context.Context, userID int64, now time.Time) (allowed bool, resetAt time.Time, err error)
}

type Config struct {
	Registry     *registry.Registry
	Credentials  credentials.Store
	Conversation conversation.Store
	Limiter      Limiter
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

type Router struct {
	registry *registry.Registry
	creds    credentials.Store
	history  conversation.Store
	limiter  Limiter
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	inflight map[int64]struct{}
}

func NewRouter(cfg Config) *Router {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{
		registry: cfg.Registry,
		creds:    cfg.Credentials,
		history:  cfg.Conversation,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger.With().Str("component", "router").Logger(),
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		inflight: make(map[int64]struct{}),
	}
}

// Handle routes one text message of userID to the user's provider. A second
// message arriving while the first is still pending gets StatusBusy and
// changes nothing.
func (r *Router) Handle(ctx context.Context, userID int64, text string) (Reply, error) {
	if !r.acquire(userID) {
		r.metrics.MessagesTotal.WithLabelValues("busy").Inc()
		return Reply{Status: StatusBusy, Text: BusyMessage}, nil
	}
	defer r.release(userID)

	providerID, ok, err := r.creds.PreferredProvider(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("load preferred provider: %w", err)
	}
	if !ok {
		r.metrics.MessagesTotal.WithLabelValues("no_provider").Inc()
		return Reply{Status: StatusNoProvider, Text: NoProviderMessage}, nil
	}

	token, _, err := r.creds.Credential(ctx, userID, providerID)
	if err != nil {
		return Reply{}, fmt.Errorf("load credential: %w", err)
	}
	model, err := r.modelFor(ctx, userID, providerID)
	if err != nil {
		return Reply{}, err
	}

	adapter, found := r.registry.Resolve(providerID, model)
	if !found || !adapter.IsAvailable(token) {
		r.metrics.MessagesTotal.WithLabelValues("not_configured").Inc()
		return Reply{
			Status: StatusNotConfigured,
			Text:   fmt.Sprintf(notConfiguredMessage, strings.ToUpper(providerID)),
		}, nil
	}

	if r.limiter != nil {
		allowed, resetAt, err := r.limiter.Allow(ctx, userID, r.now())
		if err != nil {
			return Reply{}, fmt.Errorf("rate limit: %w", err)
		}
		if !allowed {
			r.metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			return Reply{
				Status: StatusRateLimited,
				Text:   fmt.Sprintf(rateLimitedMessage, resetAt.UTC().Format("15:04")),
			}, nil
		}
	}

	history, err := r.history.Get(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", err)
	}

	answer := adapter.Generate(ctx, text, history, token)

	// Failed calls are recorded too; the transcript holds what the user saw.
	err = r.history.Append(ctx, userID,
		providers.Message{Role: providers.RoleUser, Content: text},
		providers.Message{Role: providers.RoleAssistant, Content: answer},
	)
	if err != nil {
		return Reply{}, fmt.Errorf("append history: %w", err)
	}

	r.metrics.MessagesTotal.WithLabelValues("routed").Inc()
	r.logger.Debug().
		Int64("user_id", userID).
		Str("provider", adapter.ID()).
		Str("model", adapter.Model()).
		Int("history", len(history)).
		Msg("message routed")

	return Reply{Status: StatusOK, Text: answer, Provider: adapter.Name()}, nil
}

// modelFor prefers the model stored on the user's credential, then the model
// picked during setup.
func (r *Router) modelFor(ctx context.Context, userID int64, providerID string) (string, error) {
	model, ok, err := r.creds.Model(ctx, userID, providerID)
	if err != nil {
		return "", fmt.Errorf("load model: %w", err)
	}
	if ok {
		return model, nil
	}
	model, _, err = r.creds.PreferredModel(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load preferred model: %w", err)
	}
	return model, nil
}

func (r *Router) acquire(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[userID]; busy {
		return false
	}
	r.inflight[userID] = struct{}{}
	return true
}

func (r *Router) release(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, userID)
}
