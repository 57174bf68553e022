package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/resilience"
)

func newTestClient(baseURL string) Client {
	return NewClient("test-key", WithBaseURL(baseURL))
}

func writeMessage(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 12, "output_tokens": 7},
	})
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		writeMessage(w, `{"decision":"TIER_1","score":88}`)
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 256,
		Messages:  []Message{{Role: "user", Content: "classify"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"TIER_1","score":88}`, resp.Text())
	assert.Equal(t, int64(12), resp.Usage.InputTokens)
}

func TestSDKClient_CreateMessage_TransientStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load(), "sdk retries are disabled")
}

func TestSDKClient_CreateMessage_BadRequestNotTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestSDKClient_BatchStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/messages/batches/batch_9")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":                "batch_9",
			"type":              "message_batch",
			"processing_status": "ended",
			"request_counts":    map[string]any{"processing": 0, "succeeded": 4, "errored": 1, "canceled": 0, "expired": 0},
		})
	}))
	defer ts.Close()

	status, err := newTestClient(ts.URL).BatchStatus(context.Background(), "batch_9")
	require.NoError(t, err)
	assert.Equal(t, "ended", status)
}

func TestFromSDKBatchResult_Errored(t *testing.T) {
	var resp sdk.MessageBatchIndividualResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"custom_id": "lead-7",
		"result": {"type": "errored", "error": {"type": "error", "request_id": "req_1",
			"error": {"type": "invalid_request_error", "message": "prompt is too long"}}}
	}`), &resp))

	item := fromSDKBatchResult(resp)
	assert.Equal(t, "lead-7", item.CustomID)
	assert.Equal(t, "errored", item.Type)
	assert.Equal(t, "prompt is too long", item.Error)
	assert.Nil(t, item.Message)
}
