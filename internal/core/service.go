package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"txcore/pkg/domain"
)

// Service bundles a persistence layer with the mapping, rules and
// extensions contributed by plugins, and runs units of work against it.
type Service struct {
	persistence domain.Persistence
	mapping     *domain.Mapping
	engine      *domain.RulesEngine
	extensions  []Extension
	plugins     map[string]PluginMetadata
	logger      Logger
	metrics     MetricsRecorder
	tracer      Tracer
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRulesEngine replaces the default empty rules engine.
func WithRulesEngine(engine *domain.RulesEngine) ServiceOption {
	return func(s *Service) {
		if engine != nil {
			s.engine = engine
		}
	}
}

// WithServiceLogger sets the logger handed to every transaction.
func WithServiceLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder reports unit-of-work outcomes to m.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer wraps units of work in spans started by t.
func WithTracer(t Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithServiceClock overrides the clock used for durations.
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a service over p with an empty mapping.
func NewService(p domain.Persistence, opts ...ServiceOption) *Service {
	s := &Service{
		persistence: p,
		mapping:     domain.NewMapping(),
		engine:      domain.NewRulesEngine(),
		plugins:     make(map[string]PluginMetadata),
		logger:      noopLogger{},
		metrics:     noopMetrics{},
		tracer:      noopTracer{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Persistence returns the underlying persistence layer.
func (s *Service) Persistence() domain.Persistence { return s.persistence }

// Mapping returns the class and relation metadata.
func (s *Service) Mapping() *domain.Mapping { return s.mapping }

// RulesEngine returns the commit-time validator.
func (s *Service) RulesEngine() *domain.RulesEngine { return s.engine }

// Begin starts a root transaction with the service's mapping, rules and extensions.
func (s *Service) Begin(_ context.Context, opts ...Option) (*ClientTransaction, error) {
	exts := append([]Extension{NewObservabilityExtension(s.metrics, s.tracer)}, s.extensions...)
	base := []Option{
		WithMapping(s.mapping),
		WithValidator(s.engine),
		WithLogger(s.logger),
		WithClock(s.now),
		WithExtensions(exts...),
	}
	return NewRootTransaction(s.persistence, append(base, opts...)...)
}

// RunInTransaction runs fn in a fresh root transaction and commits it when
// fn succeeds. The transaction is discarded in every case.
func (s *Service) RunInTransaction(ctx context.Context, fn func(tx *ClientTransaction) error) (err error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "service.run")
	defer func() {
		span.End(err)
		s.metrics.Observe(ctx, "service.run", err == nil, s.now().Sub(start))
	}()

	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Discard(ctx) }()
	if err = fn(tx); err != nil {
		s.logger.Debug("unit of work aborted", "tx", tx.ID(), "error", err)
		return err
	}
	return tx.Commit(ctx)
}

// InstallPlugin registers a plugin, adding its classes and relations to the
// mapping and its rules and extensions to the service.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}

	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, err
	}
	for _, c := range registry.Classes() {
		if err := s.mapping.AddClass(c); err != nil {
			return PluginMetadata{}, fmt.Errorf("plugin %s: %w", plugin.Name(), err)
		}
	}
	for _, rel := range registry.Relations() {
		if err := s.mapping.AddRelation(rel); err != nil {
			return PluginMetadata{}, fmt.Errorf("plugin %s: %w", plugin.Name(), err)
		}
	}
	for _, rule := range registry.Rules() {
		s.engine.Register(rule)
	}
	s.extensions = append(s.extensions, registry.Extensions()...)

	meta := describe(plugin, registry)
	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin installed", "plugin", meta.Name, "version", meta.Version, "classes", len(meta.Classes))
	return meta, nil
}

// RegisteredPlugins returns metadata of installed plugins sorted by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
