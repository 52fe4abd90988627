// Package crosschain coordinates multi-network agent operations.
//
// A static network table, loaded from configuration at startup, maps
// each network id to its native currency and the bridge protocols it
// speaks. Agents register the subset of networks they operate on, and
// the coordinator answers route questions: can this agent move value
// from network X to network Y, and over which protocol.
//
// Flow:
//
//  1. RegisterNetworks validates the set against the table and mirrors
//     it into the agent's registry profile
//  2. CheckRoute resolves the bridge protocol for a network pair
//  3. Matrix derives the full pairwise picture for one agent
//
// Route resolution is symmetric: the protocol for (X, Y) is always the
// protocol for (Y, X).
package crosschain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/accordproto/accord/internal/validation"
)

// Errors
var (
	ErrInvalidTable          = errors.New("crosschain: invalid network table")
	ErrInvalidAgentID        = errors.New("crosschain: invalid agent id")
	ErrInvalidNetworks       = errors.New("crosschain: invalid network set")
	ErrUnknownNetwork        = errors.New("crosschain: unknown network")
	ErrNetworkNotRegistered  = errors.New("crosschain: network not registered for agent")
	ErrNoBridgeCompatibility = errors.New("crosschain: no bridge compatibility")
)

// Protocol identifies a bridge protocol a network supports.
type Protocol string

const (
	// ProtocolNative means no bridging is required. A pair resolves to
	// it when both ends are the same network, or when either end lists
	// it and no shared bridge exists.
	ProtocolNative Protocol = "native"

	ProtocolLayerZero Protocol = "layerzero"
	ProtocolWormhole  Protocol = "wormhole"
)

// protocolPriority fixes the deterministic pick when a network pair
// shares more than one protocol.
var protocolPriority = [...]Protocol{ProtocolNative, ProtocolLayerZero, ProtocolWormhole}

func knownProtocol(p Protocol) bool {
	for _, k := range protocolPriority {
		if p == k {
			return true
		}
	}
	return false
}

// Network is one configured network in the table.
type Network struct {
	ID              string     `json:"id"`
	NativeCurrency  string     `json:"nativeCurrency"`
	BridgeProtocols []Protocol `json:"bridgeProtocols"`
}

func (n Network) speaks(p Protocol) bool {
	for _, bp := range n.BridgeProtocols {
		if bp == p {
			return true
		}
	}
	return false
}

// NetworkSpec is the configuration shape of a single network entry,
// before validation.
type NetworkSpec struct {
	NativeCurrency  string
	BridgeProtocols []string
}

// NetworkTable is the validated, immutable network configuration.
type NetworkTable struct {
	networks map[string]Network
	ids      []string // sorted
}

// NewNetworkTable validates the configured networks and builds the
// lookup table. Every entry needs a valid id, a native currency and
// only known bridge protocols; duplicates within an entry collapse.
func NewNetworkTable(specs map[string]NetworkSpec) (*NetworkTable, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no networks configured", ErrInvalidTable)
	}

	t := &NetworkTable{networks: make(map[string]Network, len(specs))}
	for id, spec := range specs {
		id = strings.ToLower(strings.TrimSpace(id))
		if !validation.IsValidNetworkID(id) {
			return nil, fmt.Errorf("%w: bad network id %q", ErrInvalidTable, id)
		}
		currency := strings.ToUpper(strings.TrimSpace(spec.NativeCurrency))
		if currency == "" {
			return nil, fmt.Errorf("%w: network %s has no native currency", ErrInvalidTable, id)
		}

		seen := make(map[Protocol]bool, len(spec.BridgeProtocols))
		protocols := make([]Protocol, 0, len(spec.BridgeProtocols))
		for _, raw := range spec.BridgeProtocols {
			p := Protocol(strings.ToLower(strings.TrimSpace(raw)))
			if !knownProtocol(p) {
				return nil, fmt.Errorf("%w: network %s lists unknown protocol %q", ErrInvalidTable, id, raw)
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			protocols = append(protocols, p)
		}

		if _, dup := t.networks[id]; dup {
			return nil, fmt.Errorf("%w: duplicate network id %q", ErrInvalidTable, id)
		}
		t.networks[id] = Network{ID: id, NativeCurrency: currency, BridgeProtocols: protocols}
		t.ids = append(t.ids, id)
	}
	sort.Strings(t.ids)
	return t, nil
}

// Lookup returns the configured network for id.
func (t *NetworkTable) Lookup(id string) (Network, bool) {
	n, ok := t.networks[id]
	return n, ok
}

// Networks returns all configured networks ordered by id.
func (t *NetworkTable) Networks() []Network {
	out := make([]Network, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.networks[id])
	}
	return out
}

// resolve picks the protocol for a configured network pair, or reports
// that the pair has no compatibility. Commutative in a and b.
func (t *NetworkTable) resolve(a, b Network) (Protocol, bool) {
	if a.ID == b.ID {
		return ProtocolNative, true
	}
	for _, p := range protocolPriority {
		if a.speaks(p) && b.speaks(p) {
			return p, true
		}
	}
	// No shared bridge. A native end needs no bridging on its side, so
	// the transfer degrades to a native settlement.
	if a.speaks(ProtocolNative) || b.speaks(ProtocolNative) {
		return ProtocolNative, true
	}
	return "", false
}

// Registration is an agent's declared network set.
type Registration struct {
	AgentID   string    `json:"agentId"`
	Networks  []string  `json:"networks"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RoutePair is one cell of an agent's compatibility matrix.
type RoutePair struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Protocol Protocol `json:"protocol,omitempty"`
	Feasible bool     `json:"feasible"`
}
