package autograder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestClient_GradeBatch(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ok/v3/grade/batch", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jobs":["j1","j2"]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", 0, discard)
	jobs, err := client.GradeBatch(context.Background(), BatchRequest{
		SubmIDs:     []string{"b1", "b2"},
		Assignment:  "key",
		AccessToken: "tok",
		Priority:    PriorityDefault,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j2"}, jobs)

	assert.Equal(t, []interface{}{"b1", "b2"}, got["subm_ids"])
	assert.Equal(t, "key", got["assignment"])
	assert.Equal(t, "tok", got["access_token"])
	assert.Equal(t, "default", got["priority"])
	assert.Equal(t, "v3", got["ok-server-version"])
}

func TestClient_GradeBatchErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		errString string
	}{
		{name: "server message", status: http.StatusBadRequest, body: `{"message":"unknown assignment key"}`, errString: "400: unknown assignment key"},
		{name: "plain text error", status: http.StatusBadGateway, body: "upstream down", errString: "502: upstream down"},
		{name: "misaligned jobs", status: http.StatusOK, body: `{"jobs":["j1"]}`, errString: "returned 1 jobs for 2 submissions"},
		{name: "malformed body", status: http.StatusOK, body: `<html>`, errString: "failed to decode autograder response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, 0, discard).GradeBatch(context.Background(), BatchRequest{SubmIDs: []string{"b1", "b2"}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestClient_Results(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/results", r.URL.Path)
		var ids []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ids))
		assert.Equal(t, []string{"j1", "j2", "j3"}, ids)
		w.Write([]byte(`{"j1":{"status":"finished","result":"ok"},"j2":{"status":"started","result":""},"j3":null}`))
	}))
	defer srv.Close()

	results, err := NewClient(srv.URL, 0, discard).Results(context.Background(), []string{"j1", "j2", "j3"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, ResultFinished, results["j1"].Status)
	assert.Equal(t, ResultStarted, results["j2"].Status)

	lost, ok := results["j3"]
	assert.True(t, ok)
	assert.Nil(t, lost)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, 0, discard).Results(context.Background(), []string{"j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "autograder request failed")
}
