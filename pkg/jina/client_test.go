package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/resilience"
)

func fastRetry() Option {
	return WithRetryConfig(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
}

func TestRead_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "/https://www.linkedin.com/in/jane-doe", r.URL.Path)

		json.NewEncoder(w).Encode(ReadResponse{ //nolint:errcheck
			Code: 200,
			Data: ReadData{Title: "Jane Doe - VP Sales", Content: "# Jane Doe\nVP Sales at Acme"},
		})
	}))
	defer srv.Close()

	got, err := NewClient("test-key", WithBaseURL(srv.URL+"/")).Read(context.Background(), "https://www.linkedin.com/in/jane-doe")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe - VP Sales", got.Data.Title)
	assert.Contains(t, got.Data.Content, "VP Sales at Acme")
}

func TestRead_NotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL), fastRetry()).Read(context.Background(), "https://x.com/in/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRead_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(ReadResponse{Code: 200, Data: ReadData{Content: "ok"}}) //nolint:errcheck
	}))
	defer srv.Close()

	got, err := NewClient("k", WithBaseURL(srv.URL), fastRetry()).Read(context.Background(), "https://x.com/in/a")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Data.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRead_RetriesExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL), fastRetry()).Read(context.Background(), "https://x.com/in/a")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRead_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Read(context.Background(), "https://x.com/in/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestRead_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), fastRetry(), WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := c.Read(context.Background(), "https://x.com/in/a")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSearch_SiteFilter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/VP sales fintech", r.URL.Path)
		assert.Equal(t, "linkedin.com/in", r.URL.Query().Get("site"))
		json.NewEncoder(w).Encode(SearchResponse{Code: 200, Data: []SearchResult{ //nolint:errcheck
			{Title: "Jane", URL: "https://www.linkedin.com/in/jane"},
			{Title: "Raj", URL: "https://www.linkedin.com/in/raj"},
		}})
	}))
	defer srv.Close()

	got, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(context.Background(), "VP sales fintech", WithSiteFilter("linkedin.com/in"))
	require.NoError(t, err)
	require.Len(t, got.Data, 2)
	assert.Equal(t, "https://www.linkedin.com/in/raj", got.Data[1].URL)
}

func TestSearch_NoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	got, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got.Data)
}

func TestSearch_Forbidden(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("bad key")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate([]byte("abc"), 5))
	assert.Equal(t, "ab...", truncate([]byte("abcdef"), 2))
}
