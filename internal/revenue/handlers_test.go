package revenue

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRevenueRouter(t *testing.T) (*gin.Engine, *Service, *fakePayer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, payer := newTestService(t)
	handler := NewHandler(svc)

	r := gin.New()
	handler.RegisterRoutes(r.Group("/v1"))

	authed := r.Group("/v1")
	authed.Use(func(c *gin.Context) {
		if addr := c.GetHeader("X-Agent-Addr"); addr != "" {
			c.Set("authAgentAddr", addr)
		}
	})
	handler.RegisterProtectedRoutes(authed)

	// Ownership and admin auth are enforced by server middleware, not here.
	authed.GET("/revenue/claims/:address", handler.ListClaims)
	handler.RegisterAdminRoutes(r.Group("/v1/admin"))
	return r, svc, payer
}

func doRevenueJSON(router *gin.Engine, method, path string, payload any, addr string) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if addr != "" {
		req.Header.Set("X-Agent-Addr", addr)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doRevenueGet(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_UpsertHolderAndGetShare(t *testing.T) {
	router, _, _ := setupRevenueRouter(t)

	w := doRevenueJSON(router, "POST", "/v1/admin/revenue/holders", UpsertHolderRequest{
		RecipientAddress:    holderOne,
		ParticipationTokens: 2000,
		ContributionScore:   0.85,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var share Share
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &share))
	assert.Equal(t, holderOne, share.RecipientAddress)
	assert.Equal(t, uint64(2000), share.ParticipationTokens)
	assert.Equal(t, "0.000000", share.AccumulatedRewards)

	w = doRevenueGet(router, "/v1/revenue/shares/"+holderOne)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched Share
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, share.RecipientAddress, fetched.RecipientAddress)

	w = doRevenueGet(router, "/v1/revenue/shares/"+holderTwo)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/holders", UpsertHolderRequest{
		RecipientAddress:  holderOne,
		ContributionScore: 1.5,
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
	assert.Contains(t, w.Body.String(), "contributionScore")

	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/holders", UpsertHolderRequest{
		RecipientAddress:  "x",
		ContributionScore: 0.5,
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
	assert.Contains(t, w.Body.String(), "recipientAddress")

	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/holders", "not json", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Distribute(t *testing.T) {
	router, _, _ := setupRevenueRouter(t)

	// No holders yet.
	w := doRevenueJSON(router, "POST", "/v1/admin/revenue/distribute", DistributeRequest{
		TotalRevenue: "100.000000",
		PeriodID:     1,
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "no_holders")

	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/holders", UpsertHolderRequest{
		RecipientAddress:    holderOne,
		ParticipationTokens: 1000,
		ContributionScore:   1.0,
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/distribute", DistributeRequest{
		TotalRevenue: "100.000000",
		PeriodID:     1,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var dist Distribution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dist))
	assert.Equal(t, uint64(1), dist.PeriodID)
	assert.Equal(t, "100.000000", dist.TotalRevenue)

	// Replay and gap.
	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/distribute", DistributeRequest{
		TotalRevenue: "100.000000",
		PeriodID:     1,
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already_distributed")

	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/distribute", DistributeRequest{
		TotalRevenue: "100.000000",
		PeriodID:     5,
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "period_out_of_order")

	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/distribute", DistributeRequest{
		TotalRevenue: "nope",
		PeriodID:     2,
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRevenueGet(router, "/v1/revenue/distributions")
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Distributions []*Distribution `json:"distributions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Distributions, 1)
	assert.Equal(t, uint64(1), listResp.Distributions[0].PeriodID)
}

func TestHandler_DistributePool(t *testing.T) {
	router, svc, _ := setupRevenueRouter(t)

	w := doRevenueJSON(router, "POST", "/v1/admin/revenue/distribute/pool", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"distributed":false`)

	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/holders", UpsertHolderRequest{
		RecipientAddress:    holderOne,
		ParticipationTokens: 1000,
		ContributionScore:   1.0,
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, svc.Accumulate(context.Background(), "agt_x", "100.000000", "settle-1"))

	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/distribute/pool", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Distributed  bool          `json:"distributed"`
		Distribution *Distribution `json:"distribution"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Distributed)
	require.NotNil(t, resp.Distribution)
	assert.Equal(t, "20.000000", resp.Distribution.TotalRevenue)

	w = doRevenueGet(router, "/v1/revenue/pool")
	require.Equal(t, http.StatusOK, w.Code)
	var status PoolStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "0.000000", status.PoolBalance)
	assert.Equal(t, "10.000000", status.TreasuryBalance)
}

func TestHandler_Claim(t *testing.T) {
	router, _, _ := setupRevenueRouter(t)

	w := doRevenueJSON(router, "POST", "/v1/admin/revenue/holders", UpsertHolderRequest{
		RecipientAddress:    holderOne,
		ParticipationTokens: 1000,
		ContributionScore:   1.0,
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = doRevenueJSON(router, "POST", "/v1/admin/revenue/distribute", DistributeRequest{
		TotalRevenue: "100.000000",
		PeriodID:     1,
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	// No auth context.
	w = doRevenueJSON(router, "POST", "/v1/revenue/claim", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRevenueJSON(router, "POST", "/v1/revenue/claim", nil, holderOne)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var claim Claim
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claim))
	assert.Equal(t, "100.000000", claim.Amount)
	assert.NotEmpty(t, claim.TxRef)

	w = doRevenueJSON(router, "POST", "/v1/revenue/claim", nil, holderOne)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "nothing_to_claim")

	// A caller without a share gets 404.
	w = doRevenueJSON(router, "POST", "/v1/revenue/claim", nil, holderTwo)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRevenueGet(router, "/v1/revenue/claims/"+holderOne)
	require.Equal(t, http.StatusOK, w.Code)
	var claimsResp struct {
		Claims []*Claim `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimsResp))
	require.Len(t, claimsResp.Claims, 1)
	assert.Equal(t, "100.000000", claimsResp.Claims[0].Amount)
}

func TestHandler_ListValidation(t *testing.T) {
	router, _, _ := setupRevenueRouter(t)

	w := doRevenueGet(router, "/v1/revenue/distributions?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRevenueGet(router, "/v1/revenue/claims/x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}
