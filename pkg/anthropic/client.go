// Package anthropic wraps the Anthropic SDK with the small surface the lead
// pipeline needs: single messages for classification, extraction and
// follow-up drafts, and message batches for large classification runs.
package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/jsonl"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/resilience"
)

// Client defines the Anthropic API operations used by the pipeline.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
	// CreateBatch starts a Message Batches job and returns its ID.
	CreateBatch(ctx context.Context, items []BatchRequestItem) (string, error)
	// BatchStatus returns the job's processing status, e.g. "in_progress" or "ended".
	BatchStatus(ctx context.Context, batchID string) (string, error)
	BatchResults(ctx context.Context, batchID string) (BatchResultIterator, error)
}

// BatchResultIterator streams individual results from a completed batch.
type BatchResultIterator interface {
	Next() bool
	Item() BatchResultItem
	Err() error
	Close() error
}

// MessageRequest is a single Messages API call.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock is a system prompt block, optionally cached.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl configures prompt caching for a block.
type CacheControl struct {
	TTL string // "5m" or "1h"
}

// Message is a single conversational turn.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is the subset of a Messages API response we keep.
type MessageResponse struct {
	Content []ContentBlock
	Usage   TokenUsage
}

// Text joins every text block of the response.
func (r *MessageResponse) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" || c.Type == "" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ContentBlock is a block of content in a response.
type ContentBlock struct {
	Type string
	Text string
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// modelPricing is model → {input $/MTok, output $/MTok}.
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {1.00, 5.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// EstimateCost returns the estimated USD cost of u, or 0 for unknown models.
// Batch requests are billed at half price.
func (u TokenUsage) EstimateCost(model string, batch bool) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	cost := (float64(u.InputTokens)/1e6)*pricing[0] +
		(float64(u.OutputTokens)/1e6)*pricing[1] +
		(float64(u.CacheCreationInputTokens)/1e6)*pricing[0]*1.25 +
		(float64(u.CacheReadInputTokens)/1e6)*pricing[0]*0.1
	if batch {
		cost /= 2
	}
	return cost
}

// LogUsage logs token usage for a pipeline stage.
func (u TokenUsage) LogUsage(model, stage string, batch bool) {
	zap.L().Debug("anthropic: usage",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model, batch)),
	)
}

// BatchRequestItem is one record's request in a batch job.
type BatchRequestItem struct {
	CustomID string
	Params   MessageRequest
}

// BatchResultItem is a single result from a completed batch.
type BatchResultItem struct {
	CustomID string
	Type     string // "succeeded", "errored", "canceled", "expired"
	Message  *MessageResponse
	Error    string // API error message for errored items
}

// Option configures the SDK-backed client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates an Anthropic client backed by the SDK. SDK-level retries
// are disabled; callers retry through the resilience package.
func NewClient(apiKey string, opts ...Option) Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(60 * time.Second),
	}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	msg, err := c.client.Messages.New(ctx, toSDKParams(req))
	if err != nil {
		return nil, markTransient(eris.Wrap(err, "anthropic: create message"), err)
	}
	return fromSDKMessage(msg), nil
}

func (c *sdkClient) CreateBatch(ctx context.Context, items []BatchRequestItem) (string, error) {
	sdkReqs := make([]sdk.MessageBatchNewParamsRequest, len(items))
	for i, r := range items {
		p := toSDKParams(r.Params)
		sdkReqs[i] = sdk.MessageBatchNewParamsRequest{
			CustomID: r.CustomID,
			Params: sdk.MessageBatchNewParamsRequestParams{
				Model:       p.Model,
				MaxTokens:   p.MaxTokens,
				Messages:    p.Messages,
				System:      p.System,
				Temperature: p.Temperature,
			},
		}
	}

	batch, err := c.client.Messages.Batches.New(ctx, sdk.MessageBatchNewParams{Requests: sdkReqs})
	if err != nil {
		return "", markTransient(eris.Wrap(err, "anthropic: create batch"), err)
	}
	return batch.ID, nil
}

func (c *sdkClient) BatchStatus(ctx context.Context, batchID string) (string, error) {
	batch, err := c.client.Messages.Batches.Get(ctx, batchID)
	if err != nil {
		return "", markTransient(eris.Wrapf(err, "anthropic: get batch %s", batchID), err)
	}
	return string(batch.ProcessingStatus), nil
}

func (c *sdkClient) BatchResults(ctx context.Context, batchID string) (BatchResultIterator, error) {
	stream := c.client.Messages.Batches.ResultsStreaming(ctx, batchID)
	if err := stream.Err(); err != nil {
		return nil, eris.Wrapf(err, "anthropic: get batch results %s", batchID)
	}
	return &sdkBatchResultIterator{stream: stream}, nil
}

type sdkBatchResultIterator struct {
	stream *jsonl.Stream[sdk.MessageBatchIndividualResponse]
	item   BatchResultItem
}

func (it *sdkBatchResultIterator) Next() bool {
	if !it.stream.Next() {
		return false
	}
	it.item = fromSDKBatchResult(it.stream.Current())
	return true
}

func (it *sdkBatchResultIterator) Item() BatchResultItem { return it.item }
func (it *sdkBatchResultIterator) Err() error            { return it.stream.Err() }
func (it *sdkBatchResultIterator) Close() error          { return it.stream.Close() }

// markTransient tags retryable API statuses so callers
// retry loops pick them up.
func markTransient(wrapped, cause error) error {
	var apiErr *sdk.Error
	if errors.As(cause, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(wrapped, apiErr.StatusCode)
	}
	return wrapped
}

// --- SDK type conversion helpers ---

func toSDKParams(req MessageRequest) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	return params
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out[i] = sdk.NewAssistantMessage(block)
		} else {
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}

func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{Text: b.Text}
		if b.CacheControl != nil {
			cc := sdk.NewCacheControlEphemeralParam()
			if b.CacheControl.TTL != "" {
				cc.TTL = sdk.CacheControlEphemeralTTL(b.CacheControl.TTL)
			}
			out[i].CacheControl = cc
		}
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	blocks := make([]ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		blocks = append(blocks, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return &MessageResponse{
		Content: blocks,
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
}

func fromSDKBatchResult(resp sdk.MessageBatchIndividualResponse) BatchResultItem {
	item := BatchResultItem{CustomID: resp.CustomID, Type: resp.Result.Type}
	switch resp.Result.Type {
	case "succeeded":
		msg := resp.Result.Message
		item.Message = fromSDKMessage(&msg)
	case "errored":
		item.Error = resp.Result.Error.Error.Message
	}
	return item
}
