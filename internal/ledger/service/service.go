package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ttkn/internal/ledger/metrics"
	"ttkn/internal/ledger/models"
	"ttkn/pkg/domain"
	dErrors "ttkn/pkg/domain-errors"
	"ttkn/pkg/platform/audit"
	"ttkn/pkg/platform/sentinel"
	"ttkn/pkg/requestcontext"
)

const tracerName = "ttkn/internal/ledger/service"

// Service is the public operation surface of the ledger. It owns no state of
// its own: every read and write goes through the Store, which serializes
// transitions.
type Service struct {
	store          Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	clock          func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock pins event timestamps. Without it the request-scoped time is used.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service over store.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	s := &Service{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Bootstrap initializes the ledger for owner, crediting the initial supply.
// It is idempotent for the same owner so restarts against a persistent store
// keep existing state; a different owner is rejected.
func (s *Service) Bootstrap(ctx context.Context, owner domain.Account) error {
	ctx, span := s.startSpan(ctx, "ledger.Bootstrap", owner)
	defer span.End()

	if owner.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "owner cannot be the zero address")
	}

	initialized := false
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		current, err := tx.Owner(ctx)
		switch {
		case err == nil:
			if current != owner {
				return fmt.Errorf("%w: ledger owned by %s", sentinel.ErrInvalidState, current)
			}
			return nil
		case errors.Is(err, sentinel.ErrNotFound):
		default:
			return err
		}

		if err := tx.SetOwner(ctx, owner); err != nil {
			return err
		}
		if _, err := credit(ctx, tx, owner, models.InitialSupply()); err != nil {
			return err
		}
		initialized = true
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return translate(err, "ledger already initialized for a different owner")
	}

	if initialized {
		s.logger.InfoContext(ctx, "ledger initialized",
			"owner", owner.String(),
			"initial_supply", models.InitialSupply().Dec(),
		)
		s.emit(ctx, audit.Event{
			Action:  string(audit.EventLedgerInitialized),
			Subject: owner.String(),
			Attributes: map[string]string{
				"initial_supply": models.InitialSupply().Dec(),
			},
		})
	}
	if s.metrics != nil {
		if count, err := s.TotalPeople(ctx); err == nil {
			s.metrics.SetTotalPeople(count)
		}
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string, account domain.Account) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("ledger.account", account.String())))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
}

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return requestcontext.Now(ctx)
}

// emit hands an audit event to the publisher. Publication happens after the
// transition committed, so failures are logged and counted but never undo it.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ActorID == "" {
		if caller, ok := requestcontext.Caller(ctx); ok {
			event.ActorID = caller.String()
		}
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		if s.metrics != nil {
			s.metrics.IncPublishFailure()
		}
		s.logger.ErrorContext(ctx, "failed to publish audit event",
			"action", event.Action,
			"subject", event.Subject,
			"seq", event.Seq,
			"error", err,
		)
	}
}
