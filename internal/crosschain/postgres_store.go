package crosschain

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresRegistrationStore persists network registrations in
// PostgreSQL, one row per agent.
type PostgresRegistrationStore struct {
	db *sql.DB
}

// NewPostgresRegistrationStore creates a PostgreSQL-backed store.
func NewPostgresRegistrationStore(db *sql.DB) *PostgresRegistrationStore {
	return &PostgresRegistrationStore{db: db}
}

func (s *PostgresRegistrationStore) Put(ctx context.Context, reg *Registration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO network_registrations (agent_id, networks, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE SET
			networks   = EXCLUDED.networks,
			updated_at = EXCLUDED.updated_at`,
		reg.AgentID, pq.Array(reg.Networks), reg.UpdatedAt,
	)
	return err
}

func (s *PostgresRegistrationStore) Get(ctx context.Context, agentID string) (*Registration, error) {
	reg := &Registration{}
	var networks pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, networks, updated_at
		FROM network_registrations
		WHERE agent_id = $1`, agentID,
	).Scan(&reg.AgentID, &networks, &reg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	reg.Networks = []string(networks)
	return reg, nil
}

var _ RegistrationStore = (*PostgresRegistrationStore)(nil)
