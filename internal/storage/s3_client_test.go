package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedPut struct {
	method      string
	path        string
	contentType string
	body        string
}

func fakeS3(t *testing.T) (*httptest.Server, func() []capturedPut) {
	t.Helper()
	var (
		mu   sync.Mutex
		puts []capturedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, capturedPut{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedPut {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedPut(nil), puts...)
	}
}

func TestNewClient_RequiresBucket(t *testing.T) {
	_, err := NewClient(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestPutObject_PathStyleEndpoint(t *testing.T) {
	srv, puts := fakeS3(t)

	c, err := NewClient(context.Background(), S3Config{
		Region:    "us-east-1",
		Bucket:    "call-audit",
		AccessKey: "test",
		SecretKey: "test",
		Endpoint:  srv.URL,
	})
	require.NoError(t, err)

	err = c.PutObject(context.Background(), "calls/2026/03/09/abc.json", "application/json", []byte(`{"call_id":"abc"}`))
	require.NoError(t, err)

	got := puts()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPut, got[0].method)
	assert.Equal(t, "/call-audit/calls/2026/03/09/abc.json", got[0].path)
	assert.Equal(t, "application/json", got[0].contentType)
	assert.Contains(t, got[0].body, `{"call_id":"abc"}`)
}

func TestPutObject_RequiresKey(t *testing.T) {
	srv, _ := fakeS3(t)
	c, err := NewClient(context.Background(), S3Config{Region: "us-east-1", Bucket: "b", AccessKey: "k", SecretKey: "s", Endpoint: srv.URL})
	require.NoError(t, err)
	assert.Error(t, c.PutObject(context.Background(), "", "text/plain", nil))

	var nilClient *Client
	assert.Error(t, nilClient.PutObject(context.Background(), "k", "text/plain", nil))
}
