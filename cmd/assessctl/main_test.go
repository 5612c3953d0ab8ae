package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRequest(t *testing.T) {
	t.Run("sends JSON payload and returns body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/assessments", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req CreateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "cand-1", req.CandidateID)

			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"session_id":"sess-1"}`))
		}))
		defer ts.Close()

		old := serverURL
		serverURL = ts.URL
		defer func() { serverURL = old }()

		body, err := doRequest(http.MethodPost, "/api/v1/assessments", CreateRequest{
			CandidateID:  "cand-1",
			PipelineType: "objective-pipeline",
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"session_id":"sess-1"}`, string(body))
	})

	t.Run("surfaces non-2xx status with body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "session: not found", http.StatusNotFound)
		}))
		defer ts.Close()

		old := serverURL
		serverURL = ts.URL
		defer func() { serverURL = old }()

		_, err := doRequest(http.MethodGet, "/api/v1/assessments/nope/progress", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
		assert.Contains(t, err.Error(), "session: not found")
	})
}

func TestCommandWiring(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"create", "begin", "progress", "sync", "submit", "retry", "abandon", "health"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
