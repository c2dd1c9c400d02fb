package queueclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestClient(url string) *Client {
	return New(Config{BaseURL: url + "/", Token: "secret", AgentID: "agent-1", Timeout: time.Second})
}

func TestClient_Claim(t *testing.T) {
	srv, requests := newTestServer(t, http.StatusOK, `{"job":{"id":42,"type":"receipt","payload":{"items":[{"name":"x"}]},"status":"printing","priority":10}}`)
	c := newTestClient(srv.URL)

	job, err := c.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(42), job.ID)
	assert.Equal(t, domain.JobTypeReceipt, job.Type)
	assert.Equal(t, domain.JobStatusPrinting, job.Status)
	assert.JSONEq(t, `{"items":[{"name":"x"}]}`, string(job.Payload))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/v1/print-jobs/claim", req.path)
	assert.Equal(t, "Bearer secret", req.auth)
	assert.JSONEq(t, `{"agent_id":"agent-1"}`, req.body)
}

func TestClient_ClaimEmpty(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"job":null}`)

	job, err := newTestClient(srv.URL).Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClient_ResetStuck(t *testing.T) {
	srv, requests := newTestServer(t, http.StatusOK, `{"reset":[{"id":1,"type":"zreport","status":"pending"},{"id":2,"type":"xreport","status":"pending"}]}`)

	jobs, err := newTestClient(srv.URL).ResetStuck(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, "threshold=300", (*requests)[0].query)
	assert.Equal(t, "/api/v1/print-jobs/reset-stuck", (*requests)[0].path)
}

func TestClient_Transitions(t *testing.T) {
	srv, requests := newTestServer(t, http.StatusOK, `{"id":5,"status":"completed"}`)
	c := newTestClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, c.Complete(ctx, 5))
	require.NoError(t, c.Fail(ctx, 6, "paper jam"))
	require.NoError(t, c.Heartbeat(ctx, 7))

	require.Len(t, *requests, 3)
	assert.Equal(t, "/api/v1/print-jobs/complete/5", (*requests)[0].path)
	assert.Equal(t, http.MethodPut, (*requests)[0].method)
	assert.Equal(t, "/api/v1/print-jobs/fail/6", (*requests)[1].path)
	assert.JSONEq(t, `{"error":"paper jam"}`, (*requests)[1].body)
	assert.Equal(t, "/api/v1/print-jobs/heartbeat/7", (*requests)[2].path)
}

func TestClient_Header(t *testing.T) {
	header := domain.CompanyHeaderSnapshot{Name: "ACME", TaxID: "123"}
	data, err := json.Marshal(header)
	require.NoError(t, err)
	srv, _ := newTestServer(t, http.StatusOK, string(data))

	got, err := newTestClient(srv.URL).Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &header, got)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "not found",
			status:   http.StatusNotFound,
			response: `{"error":"job not found"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrJobNotFound)
				assert.ErrorIs(t, err, domain.ErrJobNotFound)
			},
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			response: `{"error":"invalid token"}`,
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
				assert.Equal(t, "invalid token", statusErr.Message)
			},
		},
		{
			name:     "plain text error",
			status:   http.StatusBadGateway,
			response: "upstream down",
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, "upstream down", statusErr.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, tt.response)
			err := newTestClient(srv.URL).Complete(context.Background(), 1)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Claim(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue service POST /claim failed")
}
