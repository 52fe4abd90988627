package escrow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// Verifier checks milestone proofs for one condition type.
type Verifier interface {
	// ValidateCondition checks that a condition identifier is well
	// formed. Called once at escrow creation so malformed conditions
	// fail before any funds are locked.
	ValidateCondition(conditionID string) error

	// Verify reports whether proof satisfies the condition. A false
	// result means the proof was checked and rejected; an error means
	// the check itself could not run.
	Verify(ctx context.Context, conditionID, proof string) (bool, error)
}

// VerifierRegistry dispatches condition checks by condition type. The
// type is the conditionID prefix before the first colon, so
// "hash:ab12..." routes to the verifier registered under "hash".
type VerifierRegistry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

// NewVerifierRegistry returns a registry with the built-in hash
// verifier installed.
func NewVerifierRegistry() *VerifierRegistry {
	r := &VerifierRegistry{verifiers: make(map[string]Verifier)}
	r.Register("hash", HashVerifier{})
	return r
}

// Register installs a verifier for a condition type, replacing any
// existing one.
func (r *VerifierRegistry) Register(conditionType string, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[strings.ToLower(conditionType)] = v
}

// Lookup resolves the verifier for a condition identifier.
func (r *VerifierRegistry) Lookup(conditionID string) (Verifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[conditionType(conditionID)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, conditionType(conditionID))
	}
	return v, nil
}

func conditionType(conditionID string) string {
	t, _, _ := strings.Cut(conditionID, ":")
	return strings.ToLower(t)
}

// HashVerifier accepts a proof whose SHA-256 digest matches the hex
// digest embedded in the condition, e.g. "hash:<64 hex chars>".
type HashVerifier struct{}

func (HashVerifier) ValidateCondition(conditionID string) error {
	_, digest, ok := strings.Cut(conditionID, ":")
	if !ok || len(digest) != 64 {
		return fmt.Errorf("condition %q: want hash:<64 hex chars>", conditionID)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("condition %q: digest is not hex", conditionID)
	}
	return nil
}

func (HashVerifier) Verify(_ context.Context, conditionID, proof string) (bool, error) {
	_, digest, ok := strings.Cut(conditionID, ":")
	if !ok {
		return false, nil
	}
	sum := sha256.Sum256([]byte(proof))
	return hex.EncodeToString(sum[:]) == strings.ToLower(digest), nil
}
