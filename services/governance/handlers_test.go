// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _ := testService(t)
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleSubmitFailure(t *testing.T) {
	router := testRouter(t)

	t.Run("valid failure creates an incident", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/governance/failures", failure(1))
		require.Equal(t, http.StatusOK, w.Code)

		var resp SubmitFailureResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.IncidentID)
		require.NotEmpty(t, resp.Signature)
	})

	t.Run("missing fields are rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/governance/failures",
			map[string]any{"tenant_id": "t1"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleDecide(t *testing.T) {
	router := testRouter(t)

	var proposalID string
	for n := 1; n <= 3; n++ {
		w := doJSON(t, router, http.MethodPost, "/v1/governance/failures", failure(n))
		require.Equal(t, http.StatusOK, w.Code)
		var resp SubmitFailureResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		proposalID = resp.ProposalID
	}
	require.NotEmpty(t, proposalID)

	t.Run("intern cannot approve", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/v1/governance/proposals/%s/decide", proposalID),
			DecideRequest{Outcome: "approved", Actor: ActorRequest{ID: "bob", Role: "intern"}})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("governor approval creates a shadow policy", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/v1/governance/proposals/%s/decide", proposalID),
			DecideRequest{Outcome: "approved", Actor: ActorRequest{ID: "alice", Role: "governor"}})
		require.Equal(t, http.StatusOK, w.Code)

		var resp DecideResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.PolicyID)
	})

	t.Run("second decision conflicts", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/v1/governance/proposals/%s/decide", proposalID),
			DecideRequest{Outcome: "rejected", Actor: ActorRequest{ID: "alice", Role: "governor"}})
		require.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown proposal is 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			"/v1/governance/proposals/nope/decide",
			DecideRequest{Outcome: "approved", Actor: ActorRequest{ID: "alice", Role: "governor"}})
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleCheck(t *testing.T) {
	router := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/governance/check", CheckRequest{
		TenantID:    "t1",
		FeaturePath: "checkout/payment",
		Signature:   "sig-0000000000000001",
		RequestRef:  "req-1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "allow", string(resp.Action))
}

func TestHandleResolveIncident(t *testing.T) {
	router := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/governance/failures", failure(1))
	require.Equal(t, http.StatusOK, w.Code)
	var submitted SubmitFailureResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))

	t.Run("resolve flips the status", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/v1/governance/incidents/%s/resolve", submitted.IncidentID),
			ResolveIncidentRequest{ActorID: "alice"})
		require.Equal(t, http.StatusOK, w.Code)

		var inc map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inc))
		require.Equal(t, "resolved", inc["status"])
	})

	t.Run("unknown incident is 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			"/v1/governance/incidents/nope/resolve",
			ResolveIncidentRequest{ActorID: "alice"})
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing actor is rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/v1/governance/incidents/%s/resolve", submitted.IncidentID),
			map[string]any{})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleFlagShadow(t *testing.T) {
	router := testRouter(t)

	var proposalID string
	for n := 1; n <= 3; n++ {
		w := doJSON(t, router, http.MethodPost, "/v1/governance/failures", failure(n))
		require.Equal(t, http.StatusOK, w.Code)
		var resp SubmitFailureResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		proposalID = resp.ProposalID
	}
	w := doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/v1/governance/proposals/%s/decide", proposalID),
		DecideRequest{Outcome: "approved", Actor: ActorRequest{ID: "alice", Role: "governor"}})
	require.Equal(t, http.StatusOK, w.Code)
	var decided DecideResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decided))

	w = doJSON(t, router, http.MethodPost, "/v1/governance/failures", failure(4))
	require.Equal(t, http.StatusOK, w.Code)
	var observed SubmitFailureResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &observed))
	require.NotEmpty(t, observed.ShadowObservationID)

	t.Run("flag marks the observation", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/v1/governance/policies/%s/shadow/flag", decided.PolicyID),
			map[string]any{
				"observation_id": observed.ShadowObservationID,
				"actor_id":       "alice",
				"reason":         "legitimate retry",
			})
		require.Equal(t, http.StatusOK, w.Code)

		var resp FlagShadowResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.True(t, resp.FalsePositive)
	})

	t.Run("listing shows the flag", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			fmt.Sprintf("/v1/governance/policies/%s/shadow", decided.PolicyID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"false_positive":true`)
	})

	t.Run("flagged policy cannot promote", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/v1/governance/policies/%s/promote", decided.PolicyID),
			PromoteRequest{Actor: ActorRequest{ID: "alice", Role: "governor"}})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("unknown observation is 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/v1/governance/policies/%s/shadow/flag", decided.PolicyID),
			map[string]any{"observation_id": "nope", "actor_id": "alice"})
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleGraduationUnknownScope(t *testing.T) {
	router := testRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/governance/graduation/acme", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router := testRouter(t)

	for _, path := range []string{"/v1/governance/health", "/v1/governance/ready"} {
		w := doJSON(t, router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
	}
}
