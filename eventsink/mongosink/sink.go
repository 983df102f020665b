// Package mongosink persists credit domain events to MongoDB.
//
// Delivery from the engine is at-least-once and best-effort. Every event
// carries a deterministic event_id backed by a unique index, so a redelivered
// event is dropped instead of duplicated.
package mongosink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/reconcile"
)

// DefaultCollection is the collection events are written to.
const DefaultCollection = "credit_domain_events"

// Event types.
const (
	TypeReconciliationCompleted  = "ReconciliationCompleted"
	TypeReconciliationDivergence = "ReconciliationDivergence"
	TypeAgentBudgetWarning       = "AgentBudgetWarning"
	TypeAgentBudgetExhausted     = "AgentBudgetExhausted"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                     = (*Sink)(nil)
	_ plugin.OnInit                     = (*Sink)(nil)
	_ plugin.OnBudgetWarning            = (*Sink)(nil)
	_ plugin.OnBudgetExhausted          = (*Sink)(nil)
	_ plugin.OnReconciliationCompleted  = (*Sink)(nil)
	_ plugin.OnReconciliationDivergence = (*Sink)(nil)
)

// Event is one persisted domain event.
type Event struct {
	EventID    string    `bson:"event_id"`
	Type       string    `bson:"type"`
	AccountID  string    `bson:"account_id,omitempty"`
	ResourceID string    `bson:"resource_id,omitempty"`
	OccurredAt time.Time `bson:"occurred_at"`
	Payload    bson.M    `bson:"payload,omitempty"`
}

// Sink writes domain events to a MongoDB collection.
type Sink struct {
	db         *mongo.Database
	collection string
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Sink.
type Option func(*Sink)

// WithCollection overrides the event collection name.
func WithCollection(name string) Option {
	return func(s *Sink) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// New creates a Sink over db.
func New(db *mongo.Database, opts ...Option) *Sink {
	s := &Sink{
		db:         db,
		collection: DefaultCollection,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewGrove creates a Sink over the database of a grove.DB opened with
// mongodriver.
func NewGrove(db *grove.DB, opts ...Option) *Sink {
	return New(mongodriver.Unwrap(db).Database(), opts...)
}

// Connect opens mongodriver on uri and returns a Sink over database. Close
// the returned grove.DB when done.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Sink, *grove.DB, error) {
	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri, mongodriver.WithDatabase(database)); err != nil {
		return nil, nil, fmt.Errorf("credits/mongosink: connect: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		_ = mdb.Close() //nolint:errcheck // best-effort cleanup
		return nil, nil, fmt.Errorf("credits/mongosink: connect: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // best-effort cleanup after failed ping
		return nil, nil, fmt.Errorf("credits/mongosink: ping: %w", err)
	}
	return NewGrove(db, opts...), db, nil
}

// Name implements plugin.Plugin.
func (s *Sink) Name() string { return "mongo-event-sink" }

// OnInit implements plugin.OnInit by ensuring the collection indexes exist.
func (s *Sink) OnInit(ctx context.Context, _ any) error {
	return s.Migrate(ctx)
}

// Migrate creates the unique event_id index and the query indexes.
func (s *Sink) Migrate(ctx context.Context) error {
	_, err := s.db.Collection(s.collection).Indexes().CreateMany(ctx, indexes())
	if err != nil {
		return fmt.Errorf("credits/mongosink: migrate %s indexes: %w", s.collection, err)
	}
	return nil
}

func indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "occurred_at", Value: -1}}},
		{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "occurred_at", Value: -1}}},
	}
}

// Append inserts e. A redelivered event with a known event_id is dropped and
// reported as not inserted.
func (s *Sink) Append(ctx context.Context, e *Event) (bool, error) {
	_, err := s.db.Collection(s.collection).InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		s.logger.Debug("mongosink: dropped duplicate event",
			"event_id", e.EventID,
			"type", e.Type,
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credits/mongosink: append %s: %w", e.Type, err)
	}
	return true, nil
}

// ListOpts filters event listings.
type ListOpts struct {
	Type      string
	AccountID id.AccountID
	Limit     int
}

// List returns events matching opts, newest first.
func (s *Sink) List(ctx context.Context, opts ListOpts) ([]*Event, error) {
	filter := bson.M{}
	if opts.Type != "" {
		filter["type"] = opts.Type
	}
	if !opts.AccountID.IsNil() {
		filter["account_id"] = opts.AccountID.String()
	}
	find := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: -1}})
	if opts.Limit > 0 {
		find = find.SetLimit(int64(opts.Limit))
	}

	cur, err := s.db.Collection(s.collection).Find(ctx, filter, find)
	if err != nil {
		return nil, fmt.Errorf("credits/mongosink: list events: %w", err)
	}
	events := make([]*Event, 0)
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("credits/mongosink: decode events: %w", err)
	}
	return events, nil
}

// ──────────────────────────────────────────────────
// Hooks
// ──────────────────────────────────────────────────

// OnBudgetWarning implements plugin.OnBudgetWarning.
func (s *Sink) OnBudgetWarning(ctx context.Context, st budget.Status) error {
	return s.deliver(ctx, BudgetEvent(TypeAgentBudgetWarning, st, s.now()))
}

// OnBudgetExhausted implements plugin.OnBudgetExhausted.
func (s *Sink) OnBudgetExhausted(ctx context.Context, st budget.Status) error {
	return s.deliver(ctx, BudgetEvent(TypeAgentBudgetExhausted, st, s.now()))
}

// OnReconciliationCompleted implements plugin.OnReconciliationCompleted.
func (s *Sink) OnReconciliationCompleted(ctx context.Context, run *reconcile.Run) error {
	return s.deliver(ctx, RunEvent(TypeReconciliationCompleted, run))
}

// OnReconciliationDivergence implements plugin.OnReconciliationDivergence.
func (s *Sink) OnReconciliationDivergence(ctx context.Context, run *reconcile.Run) error {
	return s.deliver(ctx, RunEvent(TypeReconciliationDivergence, run))
}

func (s *Sink) deliver(ctx context.Context, e *Event) error {
	_, err := s.Append(ctx, e)
	return err
}

// ──────────────────────────────────────────────────
// Event builders
// ──────────────────────────────────────────────────

// RunEvent builds the event for a reconciliation run. The run ID is the
// event ID.
func RunEvent(eventType string, run *reconcile.Run) *Event {
	checks := bson.A{}
	for _, c := range run.Checks {
		checks = append(checks, bson.M{"name": c.Name, "status": string(c.Status), "details": c.Details})
	}
	divergences := bson.A{}
	for _, d := range run.Divergences {
		divergences = append(divergences, d)
	}
	return &Event{
		EventID:    eventType + ":" + run.ID.String(),
		Type:       eventType,
		ResourceID: run.ID.String(),
		OccurredAt: run.FinishedAt,
		Payload: bson.M{
			"status":      string(run.Status),
			"started_at":  run.StartedAt,
			"finished_at": run.FinishedAt,
			"checks":      checks,
			"divergences": divergences,
		},
	}
}

// BudgetEvent builds the event for a budget transition. A transition fires
// at most once per account window, so the window start is part of the
// event ID.
func BudgetEvent(eventType string, st budget.Status, now time.Time) *Event {
	return &Event{
		EventID:    eventType + ":" + st.AccountID.String() + ":" + strconv.FormatInt(st.WindowStart.UnixNano(), 10),
		Type:       eventType,
		AccountID:  st.AccountID.String(),
		OccurredAt: now.UTC(),
		Payload: bson.M{
			"circuit_state":   string(st.State),
			"daily_cap_micro": st.DailyCap.Int64(),
			"spent_micro":     st.Spent.Int64(),
			"headroom_micro":  st.Headroom.Int64(),
			"window_start":    st.WindowStart,
			"window_end":      st.WindowEnd,
		},
	}
}
