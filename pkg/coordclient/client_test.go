package coordclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.Handler) (*Client, func()) {
	ts := httptest.NewServer(handler)
	return NewClient(ts.URL, "sk_test_key"), ts.Close
}

func TestClient_AuthHeader(t *testing.T) {
	var gotAuth string
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer cleanup()

	_, err := client.GetReputation(context.Background(), "agt_x")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_test_key", gotAuth)
}

func TestClient_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "")
	_, err := client.GetReputation(context.Background(), "agt_x")
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClient_TrimsTrailingSlash(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL+"/", "k")
	_, err := client.GetReputation(context.Background(), "agt_x")
	require.NoError(t, err)
	assert.Equal(t, "/v1/reputation/agt_x", gotPath)
}

func TestClient_APIError(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "insufficient_stake",
			"message": "stake below capability floor",
		})
	}))
	defer cleanup()

	_, err := client.RegisterAgent(context.Background(), RegisterAgentRequest{
		OwnerAddress: "0xowner",
		Capabilities: []string{"translation"},
		StakeAmount:  "1",
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "insufficient_stake", apiErr.Code)
	assert.Equal(t, "stake below capability floor", apiErr.Message)
}

func TestClient_APIError_NonJSONBody(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout\n"))
	}))
	defer cleanup()

	_, err := client.GetReputation(context.Background(), "agt_x")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "http_error", apiErr.Code)
	assert.Equal(t, "upstream timeout", apiErr.Message)
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "k")
	_, err := client.GetReputation(context.Background(), "agt_x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "transport errors are not APIErrors")
}

func TestClient_RegisterAgent(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/agents", r.URL.Path)

		var req RegisterAgentRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "0xowner", req.OwnerAddress)
		assert.Equal(t, []string{"translation"}, req.Capabilities)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(RegisteredAgent{
			Agent: Agent{
				AgentID:      "agt_new",
				OwnerAddress: "0xowner",
				Capabilities: []string{"translation"},
				StakedAmount: "150.000000",
				StakeTier:    TierStandard,
			},
			APIKey:  "ak_live_secret",
			KeyID:   "key_01",
			Warning: "Store this API key securely. It will not be shown again.",
		})
	}))
	defer cleanup()

	reg, err := client.RegisterAgent(context.Background(), RegisterAgentRequest{
		OwnerAddress: "0xowner",
		Capabilities: []string{"translation"},
		StakeAmount:  "150",
	})
	require.NoError(t, err)
	assert.Equal(t, "agt_new", reg.AgentID)
	assert.Equal(t, TierStandard, reg.StakeTier)
	assert.Equal(t, "150.000000", reg.StakedAmount)
	assert.Equal(t, "ak_live_secret", reg.APIKey)
	assert.Equal(t, "key_01", reg.KeyID)
	assert.NotEmpty(t, reg.Warning)
}

func TestClient_FindAgents(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "translation", r.URL.Query().Get("capabilities"))
		assert.Equal(t, "0.8", r.URL.Query().Get("minReputation"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"agents": []Agent{
				{AgentID: "agt_a", ReputationScore: 0.9},
				{AgentID: "agt_b", ReputationScore: 0.85},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	agents, err := client.FindAgents(context.Background(), FindAgentsQuery{
		Capabilities:  []string{"translation"},
		MinReputation: 0.8,
		Limit:         5,
	})
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "agt_a", agents[0].AgentID)
	assert.Equal(t, 0.9, agents[0].ReputationScore)
}

func TestClient_Restake(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/agents/agt_a/restake", r.URL.Path)

		var body map[string]string
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		assert.Equal(t, "900", body["delta"])

		_ = json.NewEncoder(w).Encode(StakeUpdate{
			AgentID:      "agt_a",
			StakedAmount: "1000.000000",
			StakeTier:    TierProfessional,
		})
	}))
	defer cleanup()

	upd, err := client.Restake(context.Background(), "agt_a", "900")
	require.NoError(t, err)
	assert.Equal(t, TierProfessional, upd.StakeTier)
	assert.Equal(t, "1000.000000", upd.StakedAmount)
}

func TestClient_Deactivate_NoContent(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/agents/agt_a/deactivate", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer cleanup()

	err := client.Deactivate(context.Background(), "agt_a")
	require.NoError(t, err)
}

func TestClient_RecordReputationEvent(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/reputation/agt_a/events", r.URL.Path)

		var req RecordEventRequest
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &req))
		assert.Equal(t, "execution_success", req.EventType)
		require.NotNil(t, req.QualityScore)
		assert.Equal(t, 0.95, *req.QualityScore)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"event": ReputationEvent{ID: 7, AgentID: "agt_a", EventType: "execution_success", QualityScore: 0.95},
			"score": 0.91,
		})
	}))
	defer cleanup()

	score := 0.95
	rec, err := client.RecordReputationEvent(context.Background(), "agt_a", RecordEventRequest{
		EventType:    "execution_success",
		QualityScore: &score,
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Event)
	assert.Equal(t, int64(7), rec.Event.ID)
	require.NotNil(t, rec.Score)
	assert.Equal(t, 0.91, *rec.Score)
}

func TestClient_CreateAndGetEscrow(t *testing.T) {
	deadline := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/escrows", func(w http.ResponseWriter, r *http.Request) {
		var req CreateEscrowRequest
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &req))
		assert.Equal(t, "0xbuyer", req.RequesterAddress)
		require.Len(t, req.Milestones, 2)
		assert.Equal(t, 50, req.Milestones[0].Percentage)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Escrow{
			ID:            "esc_1",
			AgentID:       req.AgentID,
			PaymentAmount: "100.000000",
			State:         EscrowOpen,
			Milestones: []Milestone{
				{Percentage: 50, ConditionID: req.Milestones[0].ConditionID},
				{Percentage: 50, ConditionID: req.Milestones[1].ConditionID},
			},
			Deadline: deadline,
		})
	})
	mux.HandleFunc("/v1/escrows/esc_1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Escrow{ID: "esc_1", State: EscrowOpen})
	})

	client, cleanup := newTestClient(mux)
	defer cleanup()

	created, err := client.CreateEscrow(context.Background(), CreateEscrowRequest{
		RequesterAddress: "0xbuyer",
		AgentID:          "agt_a",
		PaymentAmount:    "100",
		Milestones:       EvenSplit([]string{HashCondition("draft"), HashCondition("final")}),
		Deadline:         deadline,
	})
	require.NoError(t, err)
	assert.Equal(t, "esc_1", created.ID)
	assert.Equal(t, EscrowOpen, created.State)
	require.Len(t, created.Milestones, 2)
	assert.False(t, created.Milestones[0].Released)

	got, err := client.GetEscrow(context.Background(), "esc_1")
	require.NoError(t, err)
	assert.Equal(t, "esc_1", got.ID)
}

func TestClient_SubmitProof(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/escrows/esc_1/milestones/1/proof", r.URL.Path)

		var body map[string]string
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		assert.Equal(t, "final deliverable", body["proof"])

		_ = json.NewEncoder(w).Encode(ReleaseOutcome{
			Escrow:         &Escrow{ID: "esc_1", State: EscrowReleased},
			MilestoneIndex: 1,
			AmountReleased: "50.000000",
			TxRef:          "tx_rel_2",
			FinalRelease:   true,
		})
	}))
	defer cleanup()

	outcome, err := client.SubmitProof(context.Background(), "esc_1", 1, "final deliverable")
	require.NoError(t, err)
	assert.True(t, outcome.FinalRelease)
	assert.Equal(t, "50.000000", outcome.AmountReleased)
	require.NotNil(t, outcome.Escrow)
	assert.Equal(t, EscrowReleased, outcome.Escrow.State)
}

func TestClient_ListAgentEscrows_Pagination(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/agents/agt_a/escrows", r.URL.Path)
		assert.Equal(t, "esc_5", r.URL.Query().Get("cursor"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"escrows":    []Escrow{{ID: "esc_4"}, {ID: "esc_3"}},
			"nextCursor": "esc_3",
			"hasMore":    true,
		})
	}))
	defer cleanup()

	page, err := client.ListAgentEscrows(context.Background(), "agt_a", "esc_5", 2)
	require.NoError(t, err)
	require.Len(t, page.Escrows, 2)
	assert.Equal(t, "esc_3", page.NextCursor)
	assert.True(t, page.HasMore)
}

func TestClient_CheckRoute(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/agents/agt_a/route", r.URL.Path)
		assert.Equal(t, "ethereum", r.URL.Query().Get("from"))
		assert.Equal(t, "polygon", r.URL.Query().Get("to"))

		_ = json.NewEncoder(w).Encode(Route{
			AgentID: "agt_a", From: "ethereum", To: "polygon", Protocol: "layerzero",
		})
	}))
	defer cleanup()

	route, err := client.CheckRoute(context.Background(), "agt_a", "ethereum", "polygon")
	require.NoError(t, err)
	assert.Equal(t, "layerzero", route.Protocol)
}

func TestClient_ListNetworks(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/networks", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"networks": []Network{
				{ID: "ethereum", NativeCurrency: "ETH", BridgeProtocols: []string{"layerzero", "wormhole"}},
				{ID: "polygon", NativeCurrency: "MATIC", BridgeProtocols: []string{"layerzero"}},
			},
		})
	}))
	defer cleanup()

	networks, err := client.ListNetworks(context.Background())
	require.NoError(t, err)
	require.Len(t, networks, 2)
	assert.Equal(t, "ethereum", networks[0].ID)
	assert.Contains(t, networks[0].BridgeProtocols, "wormhole")
}

func TestClient_ClaimRewards(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/revenue/claim", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Claim{
			ID:               1,
			RecipientAddress: "0xholder",
			Amount:           "12.500000",
			PeriodID:         3,
			TxRef:            "tx_clm_1",
		})
	}))
	defer cleanup()

	claim, err := client.ClaimRewards(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12.500000", claim.Amount)
	assert.Equal(t, uint64(3), claim.PeriodID)
}

func TestClient_GetRevenueShare(t *testing.T) {
	client, cleanup := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/revenue/shares/0xholder", r.URL.Path)
		_ = json.NewEncoder(w).Encode(RevenueShare{
			RecipientAddress:    "0xholder",
			ParticipationTokens: 5000,
			AccumulatedRewards:  "3680.981596",
		})
	}))
	defer cleanup()

	share, err := client.GetRevenueShare(context.Background(), "0xholder")
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), share.ParticipationTokens)
	assert.Equal(t, "3680.981596", share.AccumulatedRewards)
}
