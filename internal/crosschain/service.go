package crosschain

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/accordproto/accord/internal/metrics"
	"github.com/accordproto/accord/internal/syncutil"
	"github.com/accordproto/accord/internal/traces"
	"github.com/accordproto/accord/internal/validation"
)

// NetworkWriter mirrors an agent's registered network set into its
// registry profile. *registry.Service satisfies it.
type NetworkWriter interface {
	SetSupportedNetworks(ctx context.Context, agentID string, networks []string) error
}

// Coordinator owns per-agent network registrations and answers route
// feasibility questions against the configured network table.
type Coordinator struct {
	table  *NetworkTable
	store  RegistrationStore
	writer NetworkWriter
	locks  *syncutil.KeyedMutex
}

// NewCoordinator creates a coordinator over a validated network table.
func NewCoordinator(table *NetworkTable, store RegistrationStore, writer NetworkWriter) *Coordinator {
	return &Coordinator{
		table:  table,
		store:  store,
		writer: writer,
		locks:  syncutil.NewKeyedMutex(),
	}
}

// Networks returns the configured network table ordered by id.
func (c *Coordinator) Networks() []Network {
	return c.table.Networks()
}

// RegisterNetworks replaces an agent's registered network set. Every
// id must exist in the configured table. The set is mirrored into the
// agent's registry profile first, so an unknown agent is rejected
// before anything is stored here.
func (c *Coordinator) RegisterNetworks(ctx context.Context, agentID string, networks []string) (*Registration, error) {
	ctx, span := traces.StartSpan(ctx, "crosschain.RegisterNetworks", traces.AgentID(agentID))
	defer span.End()

	if !validation.IsValidAgentRef(agentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	normalized, err := normalizeNetworks(networks)
	if err != nil {
		return nil, err
	}
	for _, id := range normalized {
		if _, ok := c.table.Lookup(id); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, id)
		}
	}

	unlock := c.locks.Lock(agentID)
	defer unlock()

	prev, err := c.store.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}

	// Mirror into the profile before persisting locally. The registry
	// is the authority on agent existence, so a bad agent id fails here
	// with nothing written.
	if err := c.writer.SetSupportedNetworks(ctx, agentID, normalized); err != nil {
		return nil, err
	}

	reg := &Registration{
		AgentID:   agentID,
		Networks:  normalized,
		UpdatedAt: time.Now().UTC(),
	}
	if err := c.store.Put(ctx, reg); err != nil {
		var rollback []string
		if prev != nil {
			rollback = prev.Networks
		}
		if rbErr := c.writer.SetSupportedNetworks(ctx, agentID, rollback); rbErr != nil {
			log.Printf("CRITICAL: agent %s profile networks set to %v but registration store failed and rollback failed: %v",
				agentID, normalized, rbErr)
		}
		return nil, fmt.Errorf("store registration: %w", err)
	}
	return reg, nil
}

// RegisteredNetworks returns the agent's current set, empty when the
// agent never registered.
func (c *Coordinator) RegisteredNetworks(ctx context.Context, agentID string) ([]string, error) {
	if !validation.IsValidAgentRef(agentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	reg, err := c.store.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}
	if reg == nil {
		return []string{}, nil
	}
	return reg.Networks, nil
}

// CheckRoute resolves the bridge protocol an agent would use to move
// value between two networks. Both networks must be configured and
// registered for the agent. Symmetric in from and to.
func (c *Coordinator) CheckRoute(ctx context.Context, agentID, from, to string) (Protocol, error) {
	ctx, span := traces.StartSpan(ctx, "crosschain.CheckRoute",
		traces.AgentID(agentID), traces.Network(from))
	defer span.End()

	if !validation.IsValidAgentRef(agentID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))

	fromNet, ok := c.table.Lookup(from)
	if !ok {
		metrics.RouteChecksTotal.WithLabelValues("unknown_network").Inc()
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, from)
	}
	toNet, ok := c.table.Lookup(to)
	if !ok {
		metrics.RouteChecksTotal.WithLabelValues("unknown_network").Inc()
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, to)
	}

	reg, err := c.store.Get(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("load registration: %w", err)
	}
	registered := make(map[string]bool)
	if reg != nil {
		for _, id := range reg.Networks {
			registered[id] = true
		}
	}
	if !registered[from] {
		metrics.RouteChecksTotal.WithLabelValues("not_registered").Inc()
		return "", fmt.Errorf("%w: %q", ErrNetworkNotRegistered, from)
	}
	if !registered[to] {
		metrics.RouteChecksTotal.WithLabelValues("not_registered").Inc()
		return "", fmt.Errorf("%w: %q", ErrNetworkNotRegistered, to)
	}

	protocol, ok := c.table.resolve(fromNet, toNet)
	if !ok {
		metrics.RouteChecksTotal.WithLabelValues("no_compatibility").Inc()
		return "", fmt.Errorf("%w: %s and %s share no protocol", ErrNoBridgeCompatibility, from, to)
	}
	metrics.RouteChecksTotal.WithLabelValues("ok").Inc()
	return protocol, nil
}

// Matrix derives the pairwise compatibility of an agent's registered
// networks. One entry per unordered pair, in id order; nothing is
// stored. An agent with no registration gets an empty matrix.
func (c *Coordinator) Matrix(ctx context.Context, agentID string) ([]RoutePair, error) {
	if !validation.IsValidAgentRef(agentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	reg, err := c.store.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}
	if reg == nil || len(reg.Networks) == 0 {
		return []RoutePair{}, nil
	}

	ids := make([]string, len(reg.Networks))
	copy(ids, reg.Networks)
	sort.Strings(ids)

	pairs := make([]RoutePair, 0, len(ids)*(len(ids)-1)/2)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, aOK := c.table.Lookup(ids[i])
			b, bOK := c.table.Lookup(ids[j])
			pair := RoutePair{From: ids[i], To: ids[j]}
			if aOK && bOK {
				if p, ok := c.table.resolve(a, b); ok {
					pair.Protocol = p
					pair.Feasible = true
				}
			}
			pairs = append(pairs, pair)
		}
	}
	return pairs, nil
}

// normalizeNetworks lowercases, trims, deduplicates and sorts a
// network id set. Empty or malformed sets are rejected.
func normalizeNetworks(networks []string) ([]string, error) {
	if len(networks) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidNetworks)
	}
	seen := make(map[string]bool, len(networks))
	out := make([]string, 0, len(networks))
	for _, raw := range networks {
		id := strings.ToLower(strings.TrimSpace(raw))
		if !validation.IsValidNetworkID(id) {
			return nil, fmt.Errorf("%w: bad network id %q", ErrInvalidNetworks, raw)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
