package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askany/askany/internal/answer"
	"github.com/askany/askany/internal/conversation"
	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/search"
)

type fixedRetriever struct {
	chunks []search.RetrievedChunk
}

func (r *fixedRetriever) Retrieve(_ context.Context, _ string, _ int, _ search.Mode) ([]search.RetrievedChunk, error) {
	return r.chunks, nil
}

type fixedGenerator struct {
	text string
}

func (g *fixedGenerator) Generate(_ context.Context, _ string) (string, error) {
	return g.text, nil
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	retriever := &fixedRetriever{chunks: []search.RetrievedChunk{
		{Score: 1, Text: "Install the VPN client.", Metadata: map[string]string{"title": "VPN Setup"}},
	}}
	svc := answer.NewService(retriever, nil, &fixedGenerator{text: "Use the VPN client."},
		conversation.NewManager(), answer.Config{}, nil)
	return NewServer(svc, nil, cfg, nil)
}

func postAsk(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAskEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := postAsk(t, handler, `{"query": "how do I set up the vpn?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got answer.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Use the VPN client.", got.Text)
	assert.NotEmpty(t, got.SessionID)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "VPN Setup", got.Sources[0].Title)
}

func TestAskEndpointValidation(t *testing.T) {
	srv := newTestServer(t, Config{})
	handler := srv.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing query", `{"session_id": "s1"}`},
		{"unknown mode", `{"query": "q", "mode": "fuzzy"}`},
		{"query too long", fmt.Sprintf(`{"query": %q}`, strings.Repeat("x", MaxQueryLength+1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postAsk(t, handler, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{})
	handler := srv.Handler()

	// Ask once to create a session.
	rec := postAsk(t, handler, `{"query": "first question"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ans answer.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))

	t.Run("list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Sessions []string `json:"sessions"`
			Total    int      `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Total)
		assert.Contains(t, resp.Sessions, ans.SessionID)
	})

	t.Run("history", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+ans.SessionID+"/history", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HistoryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Turns, 2)
		assert.Equal(t, conversation.RoleUser, resp.Turns[0].Role)
		assert.Equal(t, conversation.RoleAssistant, resp.Turns[1].Role)
	})

	t.Run("history of unknown session is empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope/history", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HistoryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Turns)
	})

	t.Run("reset", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+ans.SessionID, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+ans.SessionID+"/history", nil)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		var resp HistoryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Turns)
	})
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	// No pool wired in tests, so readiness must fail.
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, Config{})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "client-supplied", rec.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{RequestsPerSecond: 0.001, Burst: 2})
	handler := srv.Handler()

	statuses := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	// A different IP has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "198.51.100.9:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Real-IP", "203.0.113.50")
	req.Header.Set("X-Forwarded-For", "203.0.113.60, 10.0.0.1")

	assert.Equal(t, "192.0.2.1", clientIP(req, false), "proxy headers ignored without trust")
	assert.Equal(t, "203.0.113.50", clientIP(req, true), "X-Real-IP preferred with trust")

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "203.0.113.60", clientIP(req, true), "first X-Forwarded-For entry")

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "192.0.2.1", clientIP(req, true), "junk header falls back to RemoteAddr")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), recoveryMiddleware(log.NewNop()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
