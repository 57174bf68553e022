package anthropic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func textMessage(text string, input int64) *MessageResponse {
	return &MessageResponse{
		Content: []ContentBlock{{Type: "text", Text: text}},
		Usage:   TokenUsage{InputTokens: input},
	}
}

func TestRunBatch(t *testing.T) {
	items := []BatchRequestItem{
		{CustomID: "lead-1", Params: MessageRequest{Model: "m"}},
		{CustomID: "lead-2", Params: MessageRequest{Model: "m"}},
		{CustomID: "lead-3", Params: MessageRequest{Model: "m"}},
		{CustomID: "lead-4", Params: MessageRequest{Model: "m"}},
	}
	iter := newSliceIterator([]BatchResultItem{
		{CustomID: "lead-1", Type: "succeeded", Message: textMessage(`{"decision":"TIER_1"}`, 40)},
		{CustomID: "lead-2", Type: "errored", Error: "prompt is too long"},
		{CustomID: "lead-3", Type: "expired"},
	}, nil)
	client := &MockClient{}
	client.On("CreateBatch", mock.Anything, items).Return("b7", nil)
	client.On("BatchStatus", mock.Anything, "b7").Return("in_progress", nil).Twice()
	client.On("BatchStatus", mock.Anything, "b7").Return("ended", nil).Once()
	client.On("BatchResults", mock.Anything, "b7").Return(iter, nil)

	out, err := RunBatch(context.Background(), client, items, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.NoError(t, out["lead-1"].Err)
	assert.Equal(t, `{"decision":"TIER_1"}`, out["lead-1"].Text)
	assert.Equal(t, int64(40), out["lead-1"].Usage.InputTokens)

	assert.ErrorIs(t, out["lead-2"].Err, ErrBatchItemFailed)
	assert.Contains(t, out["lead-2"].Err.Error(), "errored: prompt is too long")
	assert.Contains(t, out["lead-3"].Err.Error(), "expired")
	assert.Contains(t, out["lead-4"].Err.Error(), "missing from results")

	assert.True(t, iter.closed)
	client.AssertNumberOfCalls(t, "BatchStatus", 3)
	client.AssertExpectations(t)
}

func TestRunBatch_Empty(t *testing.T) {
	client := &MockClient{}
	out, err := RunBatch(context.Background(), client, nil, time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, out)
	client.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestRunBatch_CreateError(t *testing.T) {
	client := &MockClient{}
	client.On("CreateBatch", mock.Anything, mock.Anything).Return("", errors.New("boom"))

	_, err := RunBatch(context.Background(), client, []BatchRequestItem{{CustomID: "x"}}, time.Millisecond)
	require.Error(t, err)
}

func TestRunBatch_JobEndsBadly(t *testing.T) {
	for _, status := range []string{"expired", "canceled", "canceling"} {
		t.Run(status, func(t *testing.T) {
			client := &MockClient{}
			client.On("CreateBatch", mock.Anything, mock.Anything).Return("b1", nil)
			client.On("BatchStatus", mock.Anything, "b1").Return(status, nil)

			_, err := RunBatch(context.Background(), client, []BatchRequestItem{{CustomID: "x"}}, time.Millisecond)
			require.Error(t, err)
			assert.Contains(t, err.Error(), status)
			client.AssertNotCalled(t, "BatchResults", mock.Anything, mock.Anything)
		})
	}
}

func TestRunBatch_Deadline(t *testing.T) {
	client := &MockClient{}
	client.On("CreateBatch", mock.Anything, mock.Anything).Return("b1", nil)
	client.On("BatchStatus", mock.Anything, "b1").Return("in_progress", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := RunBatch(ctx, client, []BatchRequestItem{{CustomID: "x"}}, 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "still in_progress")
}

func TestRunBatch_ResultsStreamError(t *testing.T) {
	iter := newSliceIterator(nil, errors.New("stream reset"))
	client := &MockClient{}
	client.On("CreateBatch", mock.Anything, mock.Anything).Return("b1", nil)
	client.On("BatchStatus", mock.Anything, "b1").Return("ended", nil)
	client.On("BatchResults", mock.Anything, "b1").Return(iter, nil)

	_, err := RunBatch(context.Background(), client, []BatchRequestItem{{CustomID: "x"}}, time.Millisecond)
	require.Error(t, err)
	assert.True(t, iter.closed)
}
