package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"chatrelay/internal/credentials"
	"chatrelay/internal/metrics"
	"chatrelay/internal/providers/registry"
)

var (
	ErrNoSession       = errors.New("no setup in progress")
	ErrUnexpectedState = errors.New("input does not match the setup step")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownModel    = errors.New("unknown model")
	ErrEmptyToken      = errors.New("empty token")
)

// Audit actions written by the machine.
const (
	ActionTokenSet      = "token_set"
	ActionSetupComplete = "setup_complete"
)

type Outcome int

const (
	OutcomeChooseProvider Outcome = iota + 1
	OutcomeEnterToken
	OutcomeChooseModel
	OutcomeComplete
	OutcomeCancelled
)

// Source tells where a provider's usable credential comes from.
type Source int

const (
	SourceNone Source = iota
	SourceGlobal
	SourceUser
)

type ProviderOption struct {
	ID     string
	Label  string
	Source Source
	// Default marks the deployment's DEFAULT_AI_SERVICE.
	Default bool
}

// Step is what the host has to render after a transition.
type Step struct {
	Outcome  Outcome
	Provider string
	Label    string
	Model    string
	Name     string
	Models   []string
	TokenURL string
	Options  []ProviderOption
	// TokenSaved is set when this step stored a new user credential.
	TokenSaved bool
}

type Auditor interface {
	LogAction(ctx context.Context, userID int64, action string, meta map[string]string) error
}

type Config struct {
	Registry    *registry.Registry
	Credentials credentials.Store
	Holder      StateHolder
	Auditor     Auditor
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

type Machine struct {
	registry *registry.Registry
	creds    credentials.Store
	holder   StateHolder
	auditor  Auditor
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func NewMachine(cfg Config) *Machine {
	if cfg.Holder == nil {
		cfg.Holder = NewMemoryHolder()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Machine{
		registry: cfg.Registry,
		creds:    cfg.Credentials,
		holder:   cfg.Holder,
		auditor:  cfg.Auditor,
		logger:   cfg.Logger.With().Str("component", "setup").Logger(),
		metrics:  cfg.Metrics,
	}
}

// Current returns the user's session, or nil when none is active.
func (m *Machine) Current(ctx context.Context, userID int64) (*Session, error) {
	s, err := m.holder.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load setup session: %w", err)
	}
	return s, nil
}

// Start opens a fresh session, replacing any session in progress.
func (m *Machine) Start(ctx context.Context, userID int64) (Step, error) {
	if err := m.holder.Set(ctx, userID, Session{State: StateSelectingProvider}); err != nil {
		return Step{}, fmt.Errorf("start setup: %w", err)
	}
	return m.providerStep(ctx, userID)
}

// SelectProvider is accepted without a session too, so provider buttons from
// an old menu still work.
func (m *Machine) SelectProvider(ctx context.Context, userID int64, providerID string) (Step, error) {
	s, err := m.Current(ctx, userID)
	if err != nil {
		return Step{}, err
	}
	if s != nil && s.State != StateSelectingProvider {
		return Step{}, ErrUnexpectedState
	}

	providerID = strings.ToLower(strings.TrimSpace(providerID))
	adapter, ok := m.registry.Resolve(providerID, "")
	if !ok {
		return Step{}, ErrUnknownProvider
	}

	userKey, _, err := m.creds.Credential(ctx, userID, providerID)
	if err != nil {
		return Step{}, fmt.Errorf("load credential: %w", err)
	}

	if adapter.IsAvailable(userKey) {
		if err := m.holder.Set(ctx, userID, Session{State: StateSelectingModel, Provider: providerID}); err != nil {
			return Step{}, fmt.Errorf("save setup session: %w", err)
		}
		return m.modelStep(providerID, adapter.Label()), nil
	}

	if err := m.holder.Set(ctx, userID, Session{State: StateEnteringToken, Provider: providerID}); err != nil {
		return Step{}, fmt.Errorf("save setup session: %w", err)
	}
	pc, _ := m.registry.Config(providerID)
	return Step{
		Outcome:  OutcomeEnterToken,
		Provider: providerID,
		Label:    adapter.Label(),
		TokenURL: pc.TokenURL,
	}, nil
}

func (m *Machine) SubmitToken(ctx context.Context, userID int64, token string) (Step, error) {
	s, err := m.Current(ctx, userID)
	if err != nil {
		return Step{}, err
	}
	if s == nil {
		return Step{}, ErrNoSession
	}
	if s.State != StateEnteringToken {
		return Step{}, ErrUnexpectedState
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Step{}, ErrEmptyToken
	}

	if err := m.creds.SetCredential(ctx, userID, s.Provider, token, ""); err != nil {
		return Step{}, fmt.Errorf("store credential: %w", err)
	}
	m.audit(ctx, userID, ActionTokenSet, map[string]string{"provider": s.Provider})

	if err := m.holder.Set(ctx, userID, Session{State: StateSelectingModel, Provider: s.Provider}); err != nil {
		return Step{}, fmt.Errorf("save setup session: %w", err)
	}
	pc, _ := m.registry.Config(s.Provider)
	step := m.modelStep(s.Provider, pc.Label)
	step.TokenSaved = true
	return step, nil
}

func (m *Machine) SelectModel(ctx context.Context, userID int64, model string) (Step, error) {
	s, err := m.Current(ctx, userID)
	if err != nil {
		return Step{}, err
	}
	if s == nil {
		return Step{}, ErrNoSession
	}
	if s.State != StateSelectingModel {
		return Step{}, ErrUnexpectedState
	}
	if !m.knownModel(s.Provider, model) {
		return Step{}, ErrUnknownModel
	}

	if err := m.creds.SetPreferredProvider(ctx, userID, s.Provider); err != nil {
		return Step{}, fmt.Errorf("store preferred provider: %w", err)
	}
	if err := m.creds.SetPreferredModel(ctx, userID, model); err != nil {
		return Step{}, fmt.Errorf("store preferred model: %w", err)
	}
	if err := m.creds.SetModel(ctx, userID, s.Provider, model); err != nil {
		return Step{}, fmt.Errorf("store model: %w", err)
	}
	if err := m.holder.Clear(ctx, userID); err != nil {
		return Step{}, fmt.Errorf("clear setup session: %w", err)
	}

	m.metrics.SetupCompleted.Inc()
	m.audit(ctx, userID, ActionSetupComplete, map[string]string{"provider": s.Provider, "model": model})
	m.logger.Info().Int64("user_id", userID).Str("provider", s.Provider).Str("model", model).Msg("setup complete")

	adapter, _ := m.registry.Resolve(s.Provider, model)
	return Step{
		Outcome:  OutcomeComplete,
		Provider: s.Provider,
		Label:    adapter.Label(),
		Model:    model,
		Name:     adapter.Name(),
	}, nil
}

// Back returns to provider selection without applying anything pending.
func (m *Machine) Back(ctx context.Context, userID int64) (Step, error) {
	s, err := m.Current(ctx, userID)
	if err != nil {
		return Step{}, err
	}
	if s == nil {
		return Step{}, ErrNoSession
	}
	if err := m.holder.Set(ctx, userID, Session{State: StateSelectingProvider}); err != nil {
		return Step{}, fmt.Errorf("save setup session: %w", err)
	}
	return m.providerStep(ctx, userID)
}

func (m *Machine) Cancel(ctx context.Context, userID int64) (Step, error) {
	s, err := m.Current(ctx, userID)
	if err != nil {
		return Step{}, err
	}
	if s == nil {
		return Step{}, ErrNoSession
	}
	if err := m.holder.Clear(ctx, userID); err != nil {
		return Step{}, fmt.Errorf("clear setup session: %w", err)
	}
	return Step{Outcome: OutcomeCancelled, Provider: s.Provider}, nil
}

// Reset drops the session without reporting whether one existed.
func (m *Machine) Reset(ctx context.Context, userID int64) error {
	if err := m.holder.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear setup session: %w", err)
	}
	return nil
}

func (m *Machine) providerStep(ctx context.Context, userID int64) (Step, error) {
	entries := m.registry.All()
	def := m.registry.DefaultProvider()
	opts := make([]ProviderOption, 0, len(entries))
	for _, e := range entries {
		opt := ProviderOption{ID: e.ID, Label: e.Adapter.Label(), Default: e.ID == def}
		switch {
		case e.Adapter.HasEnvCredential():
			opt.Source = SourceGlobal
		default:
			has, err := m.creds.HasCredential(ctx, userID, e.ID)
			if err != nil {
				return Step{}, fmt.Errorf("check credential: %w", err)
			}
			if has {
				opt.Source = SourceUser
			}
		}
		opts = append(opts, opt)
	}
	return Step{Outcome: OutcomeChooseProvider, Options: opts}, nil
}

func (m *Machine) modelStep(providerID, label string) Step {
	return Step{
		Outcome:  OutcomeChooseModel,
		Provider: providerID,
		Label:    label,
		Models:   m.registry.ModelsFor(providerID),
	}
}

func (m *Machine) knownModel(providerID, model string) bool {
	if model == "" {
		return false
	}
	if pc, ok := m.registry.Config(providerID); ok && pc.DefaultModel == model {
		return true
	}
	for _, known := range m.registry.ModelsFor(providerID) {
		if known == model {
			return true
		}
	}
	return false
}

func (m *Machine) audit(ctx context.Context, userID int64, action string, meta map[string]string) {
	if m.auditor == nil {
		return
	}
	if err := m.auditor.LogAction(ctx, userID, action, meta); err != nil {
		m.logger.Warn().Err(err).Str("action", action).Msg("audit log write failed")
	}
}
