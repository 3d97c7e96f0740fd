// Package monitor assembles the workspace monitor: it owns configuration,
// builds the event hub, registers every service, and drives the
// Initialize, Start, Shutdown lifecycle.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/steveyegge/wsmon/internal/collab"
	"github.com/steveyegge/wsmon/internal/config"
	"github.com/steveyegge/wsmon/internal/conflict"
	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/hub"
	"github.com/steveyegge/wsmon/internal/logging"
	"github.com/steveyegge/wsmon/internal/mcp"
	"github.com/steveyegge/wsmon/internal/watcher"
)

// Starter is implemented by extra services with a start step, such as the
// dashboard server.
type Starter interface {
	Start(ctx context.Context) error
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLogger sets the root logger. Components derive child loggers from it.
func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithService registers an extra hub service alongside the built-in ones.
func WithService(s hub.Service) Option {
	return func(m *Monitor) { m.extra = append(m.extra, s) }
}

// WithClock replaces time.Now for every component.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithDialer replaces the MCP connector's dialer.
func WithDialer(d mcp.Dialer) Option {
	return func(m *Monitor) { m.dialer = d }
}

// Status is the health snapshot published as monitor:status.
type Status struct {
	Root           string          `json:"root"`
	StartedAt      time.Time       `json:"started_at,omitempty"`
	Uptime         string          `json:"uptime"`
	ActiveSessions int             `json:"active_sessions"`
	ConflictCount  int             `json:"conflict_count"`
	Hub            hub.Status      `json:"hub"`
	Watcher        watcher.Status  `json:"watcher"`
	Conflicts      conflict.Status `json:"conflicts"`
	Connector      mcp.Status      `json:"connector"`
}

// Monitor is the root of the workspace monitor.
type Monitor struct {
	config *config.Config
	logger logging.Logger
	now    func() time.Time
	dialer mcp.Dialer
	extra  []hub.Service

	hub       *hub.Hub
	watcher   *watcher.Watcher
	detector  *conflict.Detector
	analyzer  *collab.Analyzer
	connector *mcp.Connector

	mu          sync.Mutex
	initialized bool
	started     bool
	startedAt   time.Time
	stop        chan struct{}
	wg          sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates cfg and builds every component. It returns a
// *config.ConfigurationError for invalid configuration.
func New(cfg *config.Config, opts ...Option) (*Monitor, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Field: "config", Reason: "is nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Default()
	}

	m.hub = hub.New(m.logger.With("hub"))

	var err error
	m.watcher, err = watcher.New(watcher.Config{
		Extensions:  cfg.Watcher.Extensions,
		IgnorePaths: cfg.Watcher.IgnorePaths,
		Debounce:    cfg.Watcher.Debounce,
		MaxTracked:  cfg.Watcher.MaxTracked,
		Editor:      cfg.Watcher.Editor,
		Logger:      m.logger.With("watcher"),
	})
	if err != nil {
		return nil, configError("watcher", err)
	}

	m.detector, err = conflict.New(conflict.Config{
		TimeWindow:             cfg.Conflict.TimeWindow,
		MaxSimultaneousEditors: cfg.Conflict.MaxSimultaneousEditors,
		SweepInterval:          cfg.Conflict.SweepInterval,
		HistorySize:            cfg.Conflict.HistorySize,
		Now:                    m.now,
		Logger:                 m.logger.With("conflict"),
	})
	if err != nil {
		return nil, configError("conflict", err)
	}

	m.analyzer, err = collab.New(collab.Config{
		InsightsInterval: cfg.Collab.InsightsInterval,
		HotFileLimit:     cfg.Collab.HotFileLimit,
		TopN:             cfg.Collab.TopN,
		MaxSuggestions:   cfg.Collab.MaxSuggestions,
		Now:              m.now,
		Logger:           m.logger.With("collab"),
	})
	if err != nil {
		return nil, configError("collab", err)
	}

	m.connector, err = mcp.New(mcp.Config{
		Enabled:              cfg.MCP.Enabled,
		Endpoint:             cfg.MCP.Endpoint,
		HeartbeatInterval:    cfg.MCP.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.MCP.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.MCP.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MCP.MaxReconnectAttempts,
		MaxMessageSize:       cfg.MCP.MaxMessageSize,
		Compression:          cfg.MCP.Compression,
		CompressionThreshold: cfg.MCP.CompressionThreshold,
		MaxOutstanding:       cfg.MCP.MaxOutstanding,
		WriteTimeout:         cfg.MCP.WriteTimeout,
		Dialer:               m.dialer,
		Now:                  m.now,
		Logger:               m.logger.With("mcp"),
	})
	if err != nil {
		return nil, configError("mcp", err)
	}

	return m, nil
}

func configError(section string, err error) error {
	return &config.ConfigurationError{Field: section, Reason: err.Error(), Err: err}
}

// Hub returns the monitor's event hub.
func (m *Monitor) Hub() *hub.Hub { return m.hub }

// Initialize registers every service with the hub and opens the MCP
// connection. A connector failure that will be retried is logged, not
// returned.
func (m *Monitor) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	services := []hub.Service{m.watcher, m.detector, m.analyzer, m.connector}
	services = append(services, m.extra...)
	for _, s := range services {
		if err := m.hub.Register(s); err != nil {
			return fmt.Errorf("failed to register %s: %w", s.Name(), err)
		}
	}

	if err := m.connector.Initialize(ctx); err != nil {
		if !mcp.IsRetryable(err) {
			return fmt.Errorf("failed to initialize connector: %w", err)
		}
		m.logger.Warn("mcp endpoint unavailable, retrying in background", "error", err)
	}

	m.logger.Info("initialized", "services", len(services))
	return nil
}

// Start begins watching the root directory and starts periodic work.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.startedAt = m.now()
	m.stop = make(chan struct{})
	m.mu.Unlock()

	if err := m.watcher.Watch(m.config.Root); err != nil {
		// Nothing else has started yet, so a later Start may retry.
		m.mu.Lock()
		m.started = false
		m.startedAt = time.Time{}
		m.stop = nil
		m.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", m.config.Root, err)
	}
	m.detector.Start()
	m.analyzer.Start()

	for _, s := range m.extra {
		if st, ok := s.(Starter); ok {
			if err := st.Start(ctx); err != nil {
				return fmt.Errorf("failed to start %s: %w", s.Name(), err)
			}
		}
	}

	m.wg.Add(1)
	go m.statusLoop(m.stop)

	m.logger.Info("monitoring workspace", "root", m.config.Root)
	return nil
}

func (m *Monitor) statusLoop(stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.hub.Emit(events.MonitorStatus, m.Status())
		}
	}
}

// Shutdown stops periodic work, tears down every service through the hub,
// and releases all timers and watches. It is safe to call more than once.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		stop := m.stop
		m.stop = nil
		m.mu.Unlock()

		if stop != nil {
			close(stop)
			m.wg.Wait()
		}

		err := m.hub.Shutdown(ctx)

		// Services never registered are not reached through the hub.
		m.mu.Lock()
		initialized := m.initialized
		m.mu.Unlock()
		if !initialized {
			err = errors.Join(err, m.watcher.StopAll(), m.connector.Shutdown(ctx))
		}

		m.shutdownErr = err
		if err != nil {
			m.logger.Warn("shutdown completed with errors", "error", err)
		} else {
			m.logger.Info("shutdown complete")
		}
	})
	return m.shutdownErr
}

// Status returns a snapshot of monitor health.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	startedAt := m.startedAt
	m.mu.Unlock()

	conflicts := m.detector.Status()
	st := Status{
		Root:           m.config.Root,
		StartedAt:      startedAt,
		ActiveSessions: conflicts.ActiveSessions,
		ConflictCount:  conflicts.TotalConflicts,
		Hub:            m.hub.Status(),
		Watcher:        m.watcher.Status(),
		Conflicts:      conflicts,
		Connector:      m.connector.Status(),
	}
	if !startedAt.IsZero() {
		st.Uptime = m.now().Sub(startedAt).Truncate(time.Second).String()
	}
	return st
}

// Insights returns the current collaboration insights.
func (m *Monitor) Insights() events.Insights {
	return m.analyzer.GenerateInsights()
}
