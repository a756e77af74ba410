package nodeclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetInfoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/info", r.URL.Path)
		w.Write([]byte(`{"fullHeight": 12345}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, WithMaxRetries(1))
	info, err := c.GetInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(12345), info.FullHeight)
}

func TestGetBlockIDAtReturnsEmptyOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, WithMaxRetries(1))
	id, err := c.GetBlockIDAt(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "", id)
}

func TestGetBlockIDAtReturnsFirstID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["abc123"]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, WithMaxRetries(1))
	id, err := c.GetBlockIDAt(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "abc123", id)
}

func TestDoJSONRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"fullHeight": 1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, WithMaxRetries(5))
	info, err := c.GetInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), info.FullHeight)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestDoJSONDoesNotRetry4xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, WithMaxRetries(5))
	_, err := c.GetInfo(context.Background())
	require.Error(t, err)
	require.True(t, IsProtocol(err))
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestGetBlockRejectsEmptyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"header": {}, "blockTransactions": {"transactions": []}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, WithMaxRetries(1))
	_, err := c.GetBlock(context.Background(), "someid")
	require.Error(t, err)
	require.True(t, IsProtocol(err))
}
