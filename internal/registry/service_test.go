package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// --- Helpers ---

const ownerAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newRegistryService(t *testing.T) *Service {
	t.Helper()
	tiers, err := NewTierPolicy([]string{"0", "100", "1000", "10000"})
	if err != nil {
		t.Fatalf("NewTierPolicy: %v", err)
	}
	caps, err := NewCapabilityPolicy(map[string]string{
		"web_automation":     "120",
		"code_execution":     "500",
		"financial_analysis": "1000",
	}, "10")
	if err != nil {
		t.Fatalf("NewCapabilityPolicy: %v", err)
	}
	return NewService(NewMemoryStore(), tiers, caps)
}

func registerTestAgent(t *testing.T, svc *Service, stake string, capabilities ...string) *Profile {
	t.Helper()
	if len(capabilities) == 0 {
		capabilities = []string{"web_automation"}
	}
	profile, err := svc.Register(context.Background(), RegisterRequest{
		OwnerAddress: ownerAddr,
		Capabilities: capabilities,
		StakeAmount:  stake,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return profile
}

// =========================================================================
// Register tests
// =========================================================================

func TestRegister(t *testing.T) {
	svc := newRegistryService(t)
	profile := registerTestAgent(t, svc, "150", "web_automation")

	if profile.AgentID == "" {
		t.Error("expected non-empty agent id")
	}
	if !strings.HasPrefix(profile.AgentID, "agt_") {
		t.Errorf("expected agt_ prefix, got %s", profile.AgentID)
	}
	if profile.StakeTier != TierStandard {
		t.Errorf("expected standard tier for 150, got %s", profile.StakeTier)
	}
	if profile.StakedAmount != "150.000000" {
		t.Errorf("expected 150.000000 staked, got %s", profile.StakedAmount)
	}
	if profile.ReputationScore != 0.5 {
		t.Errorf("expected neutral prior 0.5, got %v", profile.ReputationScore)
	}
	if profile.Deactivated {
		t.Error("new agent must be active")
	}
}

func TestRegister_InsufficientStake(t *testing.T) {
	svc := newRegistryService(t)

	_, err := svc.Register(context.Background(), RegisterRequest{
		OwnerAddress: ownerAddr,
		Capabilities: []string{"web_automation"},
		StakeAmount:  "50",
	})
	if !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	// The rejection names the required minimum so callers can correct.
	if !strings.Contains(err.Error(), "120") {
		t.Errorf("expected minimum in message, got %q", err.Error())
	}
}

func TestRegister_MinimumIsMaxAcrossCapabilities(t *testing.T) {
	svc := newRegistryService(t)

	// 120 covers web_automation alone but not the pair with code_execution.
	_, err := svc.Register(context.Background(), RegisterRequest{
		OwnerAddress: ownerAddr,
		Capabilities: []string{"web_automation", "code_execution"},
		StakeAmount:  "400",
	})
	if !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}

	profile, err := svc.Register(context.Background(), RegisterRequest{
		OwnerAddress: ownerAddr,
		Capabilities: []string{"web_automation", "code_execution"},
		StakeAmount:  "500",
	})
	if err != nil {
		t.Fatalf("Register at exact minimum: %v", err)
	}
	if profile.StakeTier != TierStandard {
		t.Errorf("expected standard tier for 500, got %s", profile.StakeTier)
	}
}

func TestRegister_CallerSuppliedID(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()

	profile, err := svc.Register(ctx, RegisterRequest{
		AgentID:      "translator-7",
		OwnerAddress: ownerAddr,
		Capabilities: []string{"web_automation"},
		StakeAmount:  "150",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if profile.AgentID != "translator-7" {
		t.Errorf("expected caller id kept, got %s", profile.AgentID)
	}

	_, err = svc.Register(ctx, RegisterRequest{
		AgentID:      "translator-7",
		OwnerAddress: ownerAddr,
		Capabilities: []string{"web_automation"},
		StakeAmount:  "150",
	})
	if !errors.Is(err, ErrDuplicateAgent) {
		t.Errorf("expected ErrDuplicateAgent, got %v", err)
	}

	_, err = svc.Register(ctx, RegisterRequest{
		AgentID:      "x",
		OwnerAddress: ownerAddr,
		Capabilities: []string{"web_automation"},
		StakeAmount:  "150",
	})
	if !errors.Is(err, ErrInvalidAgentID) {
		t.Errorf("expected ErrInvalidAgentID for short id, got %v", err)
	}
}

func TestRegister_InvalidInputs(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{
			name: "empty owner",
			req:  RegisterRequest{Capabilities: []string{"web_automation"}, StakeAmount: "150"},
			want: ErrInvalidAddress,
		},
		{
			name: "owner with spaces",
			req:  RegisterRequest{OwnerAddress: "not an address", Capabilities: []string{"web_automation"}, StakeAmount: "150"},
			want: ErrInvalidAddress,
		},
		{
			name: "no capabilities",
			req:  RegisterRequest{OwnerAddress: ownerAddr, StakeAmount: "150"},
			want: ErrInvalidCapability,
		},
		{
			name: "bad stake",
			req:  RegisterRequest{OwnerAddress: ownerAddr, Capabilities: []string{"web_automation"}, StakeAmount: "abc"},
			want: ErrInvalidStake,
		},
		{
			name: "negative stake",
			req:  RegisterRequest{OwnerAddress: ownerAddr, Capabilities: []string{"web_automation"}, StakeAmount: "-5"},
			want: ErrInvalidStake,
		},
		{
			name: "bad payment rate",
			req:  RegisterRequest{OwnerAddress: ownerAddr, Capabilities: []string{"web_automation"}, StakeAmount: "150", PaymentRate: "free"},
			want: ErrInvalidStake,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// =========================================================================
// Restake tests
// =========================================================================

func TestRestake_TierTransitions(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()
	profile := registerTestAgent(t, svc, "150")

	// Up across two boundaries.
	tier, err := svc.Restake(ctx, profile.AgentID, "9850")
	if err != nil {
		t.Fatalf("Restake up: %v", err)
	}
	if tier != TierEnterprise {
		t.Errorf("expected enterprise at 10000, got %s", tier)
	}

	// Down just below the enterprise boundary.
	tier, err = svc.Restake(ctx, profile.AgentID, "-0.000001")
	if err != nil {
		t.Fatalf("Restake down: %v", err)
	}
	if tier != TierProfessional {
		t.Errorf("expected professional at 9999.999999, got %s", tier)
	}

	got, err := svc.Get(ctx, profile.AgentID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StakedAmount != "9999.999999" {
		t.Errorf("expected 9999.999999, got %s", got.StakedAmount)
	}
	if got.StakeTier != TierProfessional {
		t.Errorf("stored tier %s does not match returned %s", got.StakeTier, tier)
	}
}

func TestRestake_CannotDropBelowCapabilityMinimum(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()
	profile := registerTestAgent(t, svc, "150")

	_, err := svc.Restake(ctx, profile.AgentID, "-40")
	if !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}

	// Stake unchanged after the rejected withdrawal.
	got, _ := svc.Get(ctx, profile.AgentID)
	if got.StakedAmount != "150.000000" {
		t.Errorf("expected stake unchanged, got %s", got.StakedAmount)
	}

	// Exactly at the minimum is allowed.
	tier, err := svc.Restake(ctx, profile.AgentID, "-30")
	if err != nil {
		t.Fatalf("Restake to exact minimum: %v", err)
	}
	if tier != TierStandard {
		t.Errorf("expected standard at 120, got %s", tier)
	}
}

func TestRestake_InvalidDeltas(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()
	profile := registerTestAgent(t, svc, "150")

	for _, delta := range []string{"", "0", "-", "abc"} {
		if _, err := svc.Restake(ctx, profile.AgentID, delta); !errors.Is(err, ErrInvalidStake) {
			t.Errorf("delta %q: expected ErrInvalidStake, got %v", delta, err)
		}
	}

	if _, err := svc.Restake(ctx, "agt_missing", "10"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestRestake_Concurrent(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()
	profile := registerTestAgent(t, svc, "150")

	// 40 concurrent +50 adjustments on a 150 base: 150 + 2000 = 2150.
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Restake(ctx, profile.AgentID, "50"); err != nil {
				t.Errorf("Restake: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, profile.AgentID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StakedAmount != "2150.000000" {
		t.Errorf("expected 2150.000000 after 40 adjustments, got %s", got.StakedAmount)
	}
	if got.StakeTier != TierProfessional {
		t.Errorf("tier drifted from stake: %s at %s", got.StakeTier, got.StakedAmount)
	}
}

// =========================================================================
// Deactivate and writer tests
// =========================================================================

func TestDeactivate(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()
	profile := registerTestAgent(t, svc, "150")

	if err := svc.Deactivate(ctx, profile.AgentID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	// Second call is a no-op, not an error.
	if err := svc.Deactivate(ctx, profile.AgentID); err != nil {
		t.Fatalf("repeat Deactivate: %v", err)
	}

	if _, err := svc.Restake(ctx, profile.AgentID, "10"); !errors.Is(err, ErrAgentDeactivated) {
		t.Errorf("expected ErrAgentDeactivated, got %v", err)
	}

	// Deactivated agents stay readable but drop out of discovery.
	if _, err := svc.Get(ctx, profile.AgentID); err != nil {
		t.Errorf("Get after deactivate: %v", err)
	}
	found, err := svc.Find(ctx, Query{Capabilities: []string{"web_automation"}})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	for _, p := range found {
		if p.AgentID == profile.AgentID {
			t.Error("deactivated agent returned by Find")
		}
	}
}

func TestSetReputation(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()
	profile := registerTestAgent(t, svc, "150")

	if err := svc.SetReputation(ctx, profile.AgentID, 0.83); err != nil {
		t.Fatalf("SetReputation: %v", err)
	}
	got, _ := svc.Get(ctx, profile.AgentID)
	if got.ReputationScore != 0.83 {
		t.Errorf("expected 0.83, got %v", got.ReputationScore)
	}

	if err := svc.SetReputation(ctx, profile.AgentID, 1.2); err == nil {
		t.Error("expected error for score above 1")
	}
	if err := svc.SetReputation(ctx, profile.AgentID, -0.1); err == nil {
		t.Error("expected error for negative score")
	}
}

func TestRecordExecution(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()
	profile := registerTestAgent(t, svc, "150")

	for i := 0; i < 3; i++ {
		if err := svc.RecordExecution(ctx, profile.AgentID, true); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}
	if err := svc.RecordExecution(ctx, profile.AgentID, false); err != nil {
		t.Fatalf("RecordExecution failure: %v", err)
	}

	got, _ := svc.Get(ctx, profile.AgentID)
	if got.TotalExecutions != 4 {
		t.Errorf("expected 4 total, got %d", got.TotalExecutions)
	}
	if got.SuccessfulExecutions != 3 {
		t.Errorf("expected 3 successful, got %d", got.SuccessfulExecutions)
	}
}

func TestSetSupportedNetworks(t *testing.T) {
	svc := newRegistryService(t)
	ctx := context.Background()
	profile := registerTestAgent(t, svc, "150")

	if err := svc.SetSupportedNetworks(ctx, profile.AgentID, []string{"ethereum", "polygon"}); err != nil {
		t.Fatalf("SetSupportedNetworks: %v", err)
	}

	found, err := svc.Find(ctx, Query{Network: "polygon"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 1 || found[0].AgentID != profile.AgentID {
		t.Errorf("expected agent discoverable on polygon, got %d results", len(found))
	}
}
