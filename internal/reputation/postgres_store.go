package reputation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresEventStore implements EventStore backed by PostgreSQL.
// reputation_events is partitioned by month on created_at; see
// PartitionMaintainer.
type PostgresEventStore struct {
	db *sql.DB
}

var _ EventStore = (*PostgresEventStore)(nil)

// NewPostgresEventStore creates a PostgreSQL-backed event store.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (p *PostgresEventStore) Append(ctx context.Context, event *Event) error {
	const q = `
		INSERT INTO reputation_events
			(agent_id, event_type, quality_score, evidence_hash, networks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := p.db.QueryRowContext(ctx, q,
		event.AgentID,
		event.EventType,
		event.QualityScore,
		event.EvidenceHash,
		pq.Array(event.Networks),
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (p *PostgresEventStore) ListByAgent(ctx context.Context, agentID string) ([]*Event, error) {
	const q = `
		SELECT id, agent_id, event_type, quality_score, evidence_hash, networks, created_at
		FROM reputation_events
		WHERE agent_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := p.db.QueryContext(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func (p *PostgresEventStore) Recent(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	const q = `
		SELECT id, agent_id, event_type, quality_score, evidence_hash, networks, created_at
		FROM reputation_events
		WHERE agent_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, q, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		ev := &Event{}
		var networks pq.StringArray
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.EventType, &ev.QualityScore,
			&ev.EvidenceHash, &networks, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Networks = []string(networks)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PostgresNetworkScoreStore implements NetworkScoreStore backed by PostgreSQL.
type PostgresNetworkScoreStore struct {
	db *sql.DB
}

var _ NetworkScoreStore = (*PostgresNetworkScoreStore)(nil)

// NewPostgresNetworkScoreStore creates a PostgreSQL-backed network score store.
func NewPostgresNetworkScoreStore(db *sql.DB) *PostgresNetworkScoreStore {
	return &PostgresNetworkScoreStore{db: db}
}

func (p *PostgresNetworkScoreStore) Upsert(ctx context.Context, score *NetworkScore) error {
	const q = `
		INSERT INTO reputation_network_scores (agent_id, network, score, synced_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id, network)
		DO UPDATE SET score = EXCLUDED.score, synced_at = EXCLUDED.synced_at`

	_, err := p.db.ExecContext(ctx, q, score.AgentID, score.Network, score.Score, score.SyncedAt)
	if err != nil {
		return fmt.Errorf("upsert network score: %w", err)
	}
	return nil
}

func (p *PostgresNetworkScoreStore) ListByAgent(ctx context.Context, agentID string) ([]*NetworkScore, error) {
	const q = `
		SELECT agent_id, network, score, synced_at
		FROM reputation_network_scores
		WHERE agent_id = $1
		ORDER BY network ASC`

	rows, err := p.db.QueryContext(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("list network scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*NetworkScore
	for rows.Next() {
		ns := &NetworkScore{}
		if err := rows.Scan(&ns.AgentID, &ns.Network, &ns.Score, &ns.SyncedAt); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func (p *PostgresNetworkScoreStore) Agents(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT agent_id FROM reputation_network_scores ORDER BY agent_id`

	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list synced agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, err
		}
		out = append(out, agentID)
	}
	return out, rows.Err()
}
