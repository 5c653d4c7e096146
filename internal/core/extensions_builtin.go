package core

import (
	"context"
	"errors"
	"time"

	"txcore/pkg/domain"
)

// LoggingExtension writes an audit trail of transaction events to a Logger.
type LoggingExtension struct {
	BaseExtension
	logger Logger
}

// NewLoggingExtension returns an extension logging through l.
func NewLoggingExtension(l Logger) *LoggingExtension {
	if l == nil {
		l = noopLogger{}
	}
	return &LoggingExtension{logger: l}
}

func (*LoggingExtension) Name() string { return "logging" }

func (e *LoggingExtension) SubTransactionCreated(_ context.Context, parent, child *ClientTransaction) {
	e.logger.Debug("sub-transaction created", "parent", parent.ID(), "tx", child.ID())
}

func (e *LoggingExtension) ObjectsLoaded(_ context.Context, tx *ClientTransaction, ids []domain.ObjectID) {
	e.logger.Debug("objects loaded", "tx", tx.ID(), "count", len(ids))
}

func (e *LoggingExtension) ObjectDeleted(_ context.Context, tx *ClientTransaction, id domain.ObjectID) {
	e.logger.Info("object deleted", "tx", tx.ID(), "object", id.String())
}

func (e *LoggingExtension) PropertyValueChanged(_ context.Context, tx *ClientTransaction, id domain.ObjectID, property string, oldValue, newValue any) {
	e.logger.Debug("property changed", "tx", tx.ID(), "object", id.String(), "property", property, "old", oldValue, "new", newValue)
}

func (e *LoggingExtension) RelationChanged(_ context.Context, tx *ClientTransaction, ep domain.EndPointID, oldRelated, newRelated domain.ObjectID) {
	e.logger.Debug("relation changed", "tx", tx.ID(), "endpoint", ep.String(), "old", oldRelated.String(), "new", newRelated.String())
}

func (e *LoggingExtension) Committed(_ context.Context, tx *ClientTransaction, ids []domain.ObjectID) {
	e.logger.Info("commit", "tx", tx.ID(), "depth", tx.Depth(), "objects", len(ids))
}

func (e *LoggingExtension) RolledBack(_ context.Context, tx *ClientTransaction, ids []domain.ObjectID) {
	e.logger.Info("rollback", "tx", tx.ID(), "depth", tx.Depth(), "objects", len(ids))
}

func (e *LoggingExtension) TransactionDiscarded(_ context.Context, tx *ClientTransaction) {
	e.logger.Debug("discard", "tx", tx.ID(), "depth", tx.Depth())
}

// errOperationAbandoned ends spans whose operation never reached its
// after-event, e.g. a commit that failed in the persistence layer.
var errOperationAbandoned = errors.New("operation did not complete")

// ObservabilityExtension reports commit and rollback durations to a
// MetricsRecorder and wraps them in Tracer spans.
type ObservabilityExtension struct {
	BaseExtension
	metrics MetricsRecorder
	tracer  Tracer
	now     func() time.Time
	open    map[*ClientTransaction]openSpan
}

type openSpan struct {
	operation string
	started   time.Time
	span      TraceSpan
}

// NewObservabilityExtension returns an extension reporting to metrics and tracer.
// Nil collaborators are replaced by no-ops.
func NewObservabilityExtension(metrics MetricsRecorder, tracer Tracer) *ObservabilityExtension {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if tracer == nil {
		tracer = noopTracer{}
	}
	return &ObservabilityExtension{metrics: metrics, tracer: tracer, now: time.Now, open: make(map[*ClientTransaction]openSpan)}
}

func (*ObservabilityExtension) Name() string { return "observability" }

func (e *ObservabilityExtension) start(ctx context.Context, tx *ClientTransaction, op string) {
	e.finish(ctx, tx, errOperationAbandoned)
	_, span := e.tracer.Start(ctx, op)
	e.open[tx] = openSpan{operation: op, started: e.now(), span: span}
}

func (e *ObservabilityExtension) finish(ctx context.Context, tx *ClientTransaction, err error) {
	s, ok := e.open[tx]
	if !ok {
		return
	}
	delete(e.open, tx)
	s.span.End(err)
	e.metrics.Observe(ctx, s.operation, err == nil, e.now().Sub(s.started))
}

func (e *ObservabilityExtension) Committing(ctx context.Context, tx *ClientTransaction, _ []domain.ObjectID) error {
	e.start(ctx, tx, "transaction.commit")
	return nil
}

func (e *ObservabilityExtension) Committed(ctx context.Context, tx *ClientTransaction, _ []domain.ObjectID) {
	e.finish(ctx, tx, nil)
}

func (e *ObservabilityExtension) RollingBack(ctx context.Context, tx *ClientTransaction, _ []domain.ObjectID) error {
	e.start(ctx, tx, "transaction.rollback")
	return nil
}

func (e *ObservabilityExtension) RolledBack(ctx context.Context, tx *ClientTransaction, _ []domain.ObjectID) {
	e.finish(ctx, tx, nil)
}

func (e *ObservabilityExtension) TransactionDiscarded(ctx context.Context, tx *ClientTransaction) {
	e.finish(ctx, tx, errOperationAbandoned)
}
