package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"digital-self/internal/embed"
	"digital-self/internal/engine"
	"digital-self/internal/graph"
	"digital-self/internal/registry"
	"digital-self/internal/vector"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := engine.New(
		vector.NewChromemIndex(),
		graph.NewMemoryStore(),
		registry.New(),
		embed.NewMockEmbedder(64),
		engine.Options{
			WriteRetries:  1,
			VectorTimeout: time.Second,
		},
	)
	return newRouter(eng, zap.NewNop())
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

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStoreFactEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/users/u1/facts", gin.H{
		"text":       "My name is Sarah",
		"fact_type":  "IDENTITY",
		"provenance": "ONBOARDING",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		FactID string `json:"fact_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.FactID)
}

func TestStoreFactEndpoint_Validation(t *testing.T) {
	router := newTestRouter(t)

	// Missing required fields fail binding
	w := doJSON(t, router, http.MethodPost, "/api/users/u1/facts", gin.H{
		"text": "no type or provenance",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown enum values fail engine validation
	w = doJSON(t, router, http.MethodPost, "/api/users/u1/facts", gin.H{
		"text":       "bad type",
		"fact_type":  "GOSSIP",
		"provenance": "EXPLICIT",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreFactEndpoint_UnknownEntity(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/users/u1/facts", gin.H{
		"text":              "Sarah likes jazz",
		"fact_type":         "FACT",
		"provenance":        "OBSERVED",
		"related_entity_id": "no-such-entity",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfirmFactEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/users/u1/facts", gin.H{
		"text":       "prefers tea",
		"fact_type":  "PREFERENCE",
		"provenance": "OBSERVED",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		FactID string `json:"fact_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, router, http.MethodPost, "/api/users/u1/facts/"+created.FactID+"/confirm", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/users/u1/facts/missing/confirm", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEntityEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/users/u1/entities", gin.H{
		"name":        "John Smith",
		"entity_type": "PERSON",
		"provenance":  "ONBOARDING",
		"data":        gin.H{"relationship": "brother"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/users/u1/entities/resolve?name=john+smith", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		ExactMatch *struct {
			CanonicalID string `json:"canonical_id"`
		} `json:"exact_match"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.ExactMatch)
	assert.NotEmpty(t, res.ExactMatch.CanonicalID)
}

func TestRecallEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/users/u1/facts", gin.H{
		"text":       "My name is Sarah",
		"fact_type":  "IDENTITY",
		"provenance": "ONBOARDING",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/users/u1/recall", gin.H{
		"query": "what is my name?",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Snippets []struct {
			Text string `json:"text"`
		} `json:"snippets"`
		Degraded bool `json:"degraded"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.NotEmpty(t, result.Snippets)
	assert.Equal(t, "My name is Sarah", result.Snippets[0].Text)
	assert.False(t, result.Degraded)
}

func TestEraseEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/users/u1/facts", gin.H{
		"text":       "soon gone",
		"fact_type":  "FACT",
		"provenance": "EXPLICIT",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/users/u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/users/u1/recall", gin.H{
		"query": "soon gone",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Snippets []any `json:"snippets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Empty(t, result.Snippets)
}
