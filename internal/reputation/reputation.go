// Package reputation maintains the append-only outcome ledger that
// agent reputation scores are derived from.
//
// Every settled piece of work produces an Event carrying a quality
// score in [0,1]. An agent's reputation is an exponentially weighted
// moving average over its events: new = alpha*quality + (1-alpha)*old,
// with a neutral prior for agents that have no history yet. The fold
// is deterministic over (CreatedAt, ID) order, so replaying an agent's
// events from scratch always reproduces the stored score.
//
// The ledger owns the score. Other components read it from the agent
// profile, where it is pushed through a ScoreWriter on every append;
// nothing else writes that field. Multi-network visibility rows carry
// the same single score, never an independently computed one.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/accordproto/accord/internal/metrics"
	"github.com/accordproto/accord/internal/syncutil"
	"github.com/accordproto/accord/internal/traces"
	"github.com/accordproto/accord/internal/validation"
)

var (
	ErrInvalidAgentID   = errors.New("reputation: invalid agent id")
	ErrInvalidEventType = errors.New("reputation: invalid event type")
	ErrInvalidScore     = errors.New("reputation: quality score out of range")
	ErrInvalidNetwork   = errors.New("reputation: invalid network id")
	ErrInvalidEvidence  = errors.New("reputation: invalid evidence hash")
)

// Well-known event types. Callers may record other types; these are the
// ones the engine emits itself.
const (
	EventMilestoneCompleted = "milestone_completed"
	EventDeadlineMissed     = "deadline_missed"
	EventManualAdjustment   = "manual_adjustment"
)

// EWMA defaults. Override via WithAlpha/WithPrior when configuration
// says otherwise.
const (
	DefaultAlpha = 0.3
	DefaultPrior = 0.5
)

const maxEvidenceLen = 128

// Event is one recorded outcome. Events are immutable once appended;
// the store assigns the sequence ID.
type Event struct {
	ID           int64     `json:"id"`
	AgentID      string    `json:"agentId"`
	EventType    string    `json:"eventType"`
	QualityScore float64   `json:"qualityScore"`
	EvidenceHash string    `json:"evidenceHash,omitempty"`
	Networks     []string  `json:"networks,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NetworkScore is a per-network visibility row. Score always equals the
// agent's single authoritative score as of SyncedAt.
type NetworkScore struct {
	AgentID  string    `json:"agentId"`
	Network  string    `json:"network"`
	Score    float64   `json:"score"`
	SyncedAt time.Time `json:"syncedAt"`
}

// ScoreWriter pushes a recomputed score into the agent profile.
// *registry.Service satisfies it.
type ScoreWriter interface {
	SetReputation(ctx context.Context, agentID string, score float64) error
}

// Ledger folds outcome events into reputation scores.
type Ledger struct {
	events   EventStore
	networks NetworkScoreStore
	writer   ScoreWriter
	locks    *syncutil.KeyedMutex
	alpha    float64
	prior    float64
}

// NewLedger creates a reputation ledger with default EWMA parameters.
func NewLedger(events EventStore, networks NetworkScoreStore, writer ScoreWriter) *Ledger {
	return &Ledger{
		events:   events,
		networks: networks,
		writer:   writer,
		locks:    syncutil.NewKeyedMutex(),
		alpha:    DefaultAlpha,
		prior:    DefaultPrior,
	}
}

// WithAlpha sets the EWMA smoothing factor. Higher values weight recent
// outcomes more heavily. Out-of-range values are ignored.
func (l *Ledger) WithAlpha(alpha float64) *Ledger {
	if alpha > 0 && alpha <= 1 {
		l.alpha = alpha
	}
	return l
}

// WithPrior sets the starting score for agents with no history. Must
// match the prior the registry seeds new profiles with.
func (l *Ledger) WithPrior(prior float64) *Ledger {
	if prior >= 0 && prior <= 1 {
		l.prior = prior
	}
	return l
}

// Record appends an outcome event and folds it into the agent's score.
//
// The new score is pushed to the profile before the event is appended:
// a push failure (unknown agent, registry down) leaves the ledger
// untouched, and an append failure rolls the profile back to the old
// score so the log and the profile never drift apart.
func (l *Ledger) Record(ctx context.Context, agentID, eventType string, quality float64, evidenceHash string, networks []string) (*Event, error) {
	ctx, span := traces.StartSpan(ctx, "reputation.Record",
		traces.AgentID(agentID),
		attribute.Float64("reputation.quality", quality))
	defer span.End()

	if !validation.IsValidAgentRef(agentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	eventType = strings.ToLower(strings.TrimSpace(eventType))
	if !validEventType(eventType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}
	if math.IsNaN(quality) || quality < 0 || quality > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, quality)
	}
	if len(evidenceHash) > maxEvidenceLen {
		return nil, fmt.Errorf("%w: longer than %d bytes", ErrInvalidEvidence, maxEvidenceLen)
	}
	networks, err := normalizeNetworks(networks)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(agentID)
	defer unlock()

	history, err := l.events.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("reputation: list events: %w", err)
	}
	oldScore := l.fold(history)
	newScore := clamp01(l.alpha*quality + (1-l.alpha)*oldScore)

	if err := l.writer.SetReputation(ctx, agentID, newScore); err != nil {
		return nil, fmt.Errorf("reputation: push score: %w", err)
	}

	ev := &Event{
		AgentID:      agentID,
		EventType:    eventType,
		QualityScore: quality,
		EvidenceHash: evidenceHash,
		Networks:     networks,
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.events.Append(ctx, ev); err != nil {
		if pushErr := l.writer.SetReputation(ctx, agentID, oldScore); pushErr != nil {
			log.Printf("CRITICAL: agent %s score pushed to %.4f but event append failed and rollback failed: %v", agentID, newScore, pushErr)
		}
		return nil, fmt.Errorf("reputation: append event: %w", err)
	}

	metrics.ReputationEventsTotal.WithLabelValues(eventTypeLabel(eventType)).Inc()
	span.SetAttributes(attribute.Float64("reputation.score", newScore))
	return ev, nil
}

// GetScore folds the agent's full event history. Agents with no events
// sit at the neutral prior.
func (l *Ledger) GetScore(ctx context.Context, agentID string) (float64, error) {
	if !validation.IsValidAgentRef(agentID) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	events, err := l.events.ListByAgent(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("reputation: list events: %w", err)
	}
	return l.fold(events), nil
}

// Events returns an agent's most recent events, newest first.
func (l *Ledger) Events(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	if !validation.IsValidAgentRef(agentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return l.events.Recent(ctx, agentID, limit)
}

// Replay recomputes a score from scratch. Events are folded in
// (CreatedAt, ID) order regardless of input order; the result matches
// the incrementally maintained score exactly.
func (l *Ledger) Replay(events []*Event) float64 {
	sorted := make([]*Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return l.fold(sorted)
}

// SyncNetworks copies the agent's single authoritative score into
// per-network visibility rows. It never computes a per-network score,
// so multi-network agents cannot drift.
func (l *Ledger) SyncNetworks(ctx context.Context, agentID string, networks []string) ([]*NetworkScore, error) {
	if !validation.IsValidAgentRef(agentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	networks, err := normalizeNetworks(networks)
	if err != nil {
		return nil, err
	}
	if len(networks) == 0 {
		return nil, fmt.Errorf("%w: at least one network required", ErrInvalidNetwork)
	}

	// The agent lock keeps the score stable against a concurrent Record
	// while the rows are written.
	unlock := l.locks.Lock(agentID)
	defer unlock()

	events, err := l.events.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("reputation: list events: %w", err)
	}
	score := l.fold(events)
	now := time.Now().UTC()

	out := make([]*NetworkScore, 0, len(networks))
	for _, network := range networks {
		ns := &NetworkScore{AgentID: agentID, Network: network, Score: score, SyncedAt: now}
		if err := l.networks.Upsert(ctx, ns); err != nil {
			return nil, fmt.Errorf("reputation: sync %s: %w", network, err)
		}
		out = append(out, ns)
	}
	return out, nil
}

// NetworkScores returns the agent's per-network visibility rows.
func (l *Ledger) NetworkScores(ctx context.Context, agentID string) ([]*NetworkScore, error) {
	if !validation.IsValidAgentRef(agentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	return l.networks.ListByAgent(ctx, agentID)
}

// fold assumes events are already in (CreatedAt, ID) order, which is
// what EventStore.ListByAgent guarantees.
func (l *Ledger) fold(events []*Event) float64 {
	score := l.prior
	for _, ev := range events {
		score = clamp01(l.alpha*ev.QualityScore + (1-l.alpha)*score)
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func validEventType(t string) bool {
	if len(t) == 0 || len(t) > 64 {
		return false
	}
	for i, r := range t {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '_' && i > 0:
		default:
			return false
		}
	}
	return true
}

func normalizeNetworks(networks []string) ([]string, error) {
	if len(networks) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(networks))
	out := make([]string, 0, len(networks))
	for _, n := range networks {
		n = strings.ToLower(strings.TrimSpace(n))
		if !validation.IsValidNetworkID(n) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidNetwork, n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

// eventTypeLabel buckets free-form event types so the metric label set
// stays bounded.
func eventTypeLabel(t string) string {
	switch t {
	case EventMilestoneCompleted, EventDeadlineMissed, EventManualAdjustment:
		return t
	default:
		return "other"
	}
}
