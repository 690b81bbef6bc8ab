package registryclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"ringline/internal/domain/call"
	"ringline/internal/session"
	"ringline/internal/transport/httpdto"
	ringline_errors "ringline/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	method string
	path   string
	auth   string
	key    string
	body   []byte
}

type registryServer struct {
	mu       sync.Mutex
	requests []seen
}

func (s *registryServer) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, seen{
		method: r.Method,
		path:   r.URL.Path,
		auth:   r.Header.Get("Authorization"),
		key:    r.Header.Get(IdempotencyHeader),
		body:   body,
	})
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) (*registryServer, *Client) {
	rs := &registryServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.record(r)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return rs, New(srv.URL, "tok-1")
}

func TestClient_CreateCall(t *testing.T) {
	rs, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, httpdto.NewSuccessResponse(httpdto.CreateCallResponse{
			CallID: "c1",
			Credential: httpdto.CredentialDTO{
				Token: "lk", URL: "ws://lk", Room: "call-c1", Identity: "u1",
				ExpiresAt: "2026-03-09T12:00:00Z",
			},
		}))
	})

	id, cred, err := c.CreateCall(context.Background(), session.CreateRequest{
		ParticipantIDs: []string{"u2"},
		Kind:           call.KindVideo,
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
	assert.Equal(t, "lk", cred.Token)
	assert.Equal(t, "call-c1", cred.Room)
	assert.False(t, cred.ExpiresAt.IsZero())

	require.Len(t, rs.requests, 1)
	req := rs.requests[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/v1/calls", req.path)
	assert.Equal(t, "Bearer tok-1", req.auth)
	assert.NotEmpty(t, req.key)

	var body httpdto.CreateCallRequest
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, []string{"u2"}, body.ParticipantIDs)
	assert.Equal(t, "video", body.Type)
}

func TestClient_ErrorStatusesMapToTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ringline_errors.ErrInvalidInput},
		{http.StatusNotFound, ringline_errors.ErrNotFound},
		{http.StatusConflict, ringline_errors.ErrInvalidState},
		{http.StatusTooManyRequests, ringline_errors.ErrRateLimited},
		{http.StatusUnauthorized, ringline_errors.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			_, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, httpdto.NewErrorResponse("nope", "X"))
			})
			_, err := c.AcceptCall(context.Background(), "c1")
			assert.ErrorIs(t, err, tc.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestClient_RetriesServerErrorsWithSameKey(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	rs, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			writeJSON(w, http.StatusInternalServerError, httpdto.NewErrorResponse("boom", "INTERNAL_ERROR"))
			return
		}
		writeJSON(w, http.StatusOK, httpdto.NewSuccessResponse(map[string]string{"call_id": "c1"}))
	})

	require.NoError(t, c.EndCall(context.Background(), "c1"))

	require.Len(t, rs.requests, 2)
	assert.Equal(t, "/v1/calls/c1/end", rs.requests[0].path)
	assert.Equal(t, rs.requests[0].key, rs.requests[1].key)
}

func TestClient_ActionsHitTheirRoutes(t *testing.T) {
	rs, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, httpdto.NewSuccessResponse(map[string]string{"call_id": "c1"}))
	})
	ctx := context.Background()

	require.NoError(t, c.DeclineCall(ctx, "c1"))
	require.NoError(t, c.MarkMissed(ctx, "c1"))
	require.NoError(t, c.JoinCall(ctx, "c1"))
	require.NoError(t, c.LeaveCall(ctx, "c1"))

	var paths []string
	for _, r := range rs.requests {
		paths = append(paths, r.path)
	}
	assert.Equal(t, []string{
		"/v1/calls/c1/decline",
		"/v1/calls/c1/missed",
		"/v1/calls/c1/join",
		"/v1/calls/c1/leave",
	}, paths)
	assert.NotEqual(t, rs.requests[0].key, rs.requests[1].key)
}

func TestClient_Reads(t *testing.T) {
	rs, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/calls" {
			writeJSON(w, http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListCallsResponse{
				Calls: []httpdto.CallDTO{{ID: "c1", Status: "ended"}},
				Total: 1,
			}))
			return
		}
		writeJSON(w, http.StatusNotFound, httpdto.NewErrorResponse("call not found", "NOT_FOUND"))
	})
	ctx := context.Background()

	list, err := c.ListCalls(ctx, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
	assert.Equal(t, "ended", list.Calls[0].Status)

	_, err = c.GetCall(ctx, "missing")
	assert.ErrorIs(t, err, ringline_errors.ErrNotFound)

	for _, r := range rs.requests {
		assert.Empty(t, r.key)
	}
}
