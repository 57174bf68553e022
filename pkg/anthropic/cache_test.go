package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCriteriaSystemBlocks(t *testing.T) {
	blocks := CriteriaSystemBlocks("Classify the lead.", "# Criteria\nTIER_1: founders")
	require.Len(t, blocks, 2)
	assert.Nil(t, blocks[0].CacheControl)
	require.NotNil(t, blocks[1].CacheControl)
	assert.Equal(t, "1h", blocks[1].CacheControl.TTL)
	assert.Contains(t, blocks[1].Text, "TIER_1")
}

func TestCriteriaSystemBlocks_NoInstructions(t *testing.T) {
	blocks := CriteriaSystemBlocks("  ", "criteria")
	require.Len(t, blocks, 1)
	assert.Equal(t, "criteria", blocks[0].Text)
}

func TestCriteriaSystemBlocks_NoCriteria(t *testing.T) {
	blocks := CriteriaSystemBlocks("Write a message.", "")
	require.Len(t, blocks, 1)
	assert.Nil(t, blocks[0].CacheControl)
}

func TestWarmCache(t *testing.T) {
	client := &MockClient{}
	req := MessageRequest{Model: "claude-haiku-4-5-20251001"}
	client.On("CreateMessage", mock.Anything, req).Return(&MessageResponse{}, nil)
	require.NoError(t, WarmCache(context.Background(), client, req))

	failing := &MockClient{}
	failing.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	err := WarmCache(context.Background(), failing, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warm cache")
}
