package telegram

import (
	"context"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/rs/zerolog"

	"chatrelay/internal/chat"
	"chatrelay/internal/conversation"
	"chatrelay/internal/credentials"
	"chatrelay/internal/metrics"
	"chatrelay/internal/providers/registry"
	"chatrelay/internal/setup"
	"chatrelay/internal/storage"
)

// AuditLog records user-visible configuration changes. Nil disables it.
type AuditLog interface {
	LogAction(ctx context.Context, userID int64, action string, meta map[string]string) error
	ListActions(ctx context.Context, userID int64, limit uint64) ([]storage.AuditEntry, error)
	ClearUser(ctx context.Context, userID int64) (int64, error)
}

type Service struct {
	router   *chat.Router
	machine  *setup.Machine
	registry *registry.Registry
	creds    credentials.Store
	history  conversation.Store
	audit    AuditLog
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type Config struct {
	Router       *chat.Router
	Machine      *setup.Machine
	Registry     *registry.Registry
	Credentials  credentials.Store
	Conversation conversation.Store
	Audit        AuditLog
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Service{
		router:   cfg.Router,
		machine:  cfg.Machine,
		registry: cfg.Registry,
		creds:    cfg.Credentials,
		history:  cfg.Conversation,
		audit:    cfg.Audit,
		logger:   cfg.Logger.With().Str("component", "telegram").Logger(),
		metrics:  m,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("setup", s.setup))
	d.AddHandler(handlers.NewCommand("settoken", s.setup))
	d.AddHandler(handlers.NewCommand("removetoken", s.removeTokenMenu))
	d.AddHandler(handlers.NewCommand("myconfig", s.myConfig))
	d.AddHandler(handlers.NewCommand("cleardata", s.clearData))
	d.AddHandler(handlers.NewCommand("clear", s.clearHistory))
	d.AddHandler(handlers.NewCommand("cancel", s.cancelSetup))
	d.AddHandler(handlers.NewCommand("about", s.about))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg)
	}, s.privateText))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && !message.Text(msg)
	}, s.nonText))
}

func (s *Service) providerLabels() []string {
	entries := s.registry.All()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Adapter.Label())
	}
	return out
}

func (s *Service) logAudit(ctx context.Context, userID int64, action string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogAction(ctx, userID, action, meta); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("audit log write failed")
	}
}
