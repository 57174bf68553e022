package anthropic

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrBatchItemFailed marks a record whose batch request did not succeed.
var ErrBatchItemFailed = eris.New("anthropic: batch item failed")

const (
	defaultPollInterval = 2 * time.Second
	maxPollInterval     = 15 * time.Second
	defaultBatchTimeout = 30 * time.Minute
)

// BatchOutcome is one record's result from RunBatch. Err is set, wrapping
// ErrBatchItemFailed, when the record got no usable response.
type BatchOutcome struct {
	Text  string
	Usage TokenUsage
	Err   error
}

// RunBatch classifies many records as one Message Batches job. Each item's
// CustomID is the record ID. It waits for the job to end and returns an
// outcome for every submitted record, including records the results stream
// left out. The whole call fails only when the job itself cannot be created,
// polled or read. poll is the first status interval and doubles up to 15s.
func RunBatch(ctx context.Context, client Client, items []BatchRequestItem, poll time.Duration) (map[string]BatchOutcome, error) {
	out := make(map[string]BatchOutcome, len(items))
	if len(items) == 0 {
		return out, nil
	}

	batchID, err := client.CreateBatch(ctx, items)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("batch_id", batchID))
	log.Info("anthropic: batch created", zap.Int("records", len(items)))

	if err := waitForBatch(ctx, client, batchID, poll); err != nil {
		return nil, err
	}

	iter, err := client.BatchResults(ctx, batchID)
	if err != nil {
		return nil, err
	}
	defer iter.Close() //nolint:errcheck

	for iter.Next() {
		item := iter.Item()
		if item.Type == "succeeded" && item.Message != nil {
			out[item.CustomID] = BatchOutcome{Text: item.Message.Text(), Usage: item.Message.Usage}
			continue
		}
		reason := item.Type
		if item.Error != "" {
			reason += ": " + item.Error
		}
		out[item.CustomID] = BatchOutcome{Err: eris.Wrapf(ErrBatchItemFailed, "record %s %s", item.CustomID, reason)}
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrapf(err, "anthropic: read batch %s results", batchID)
	}

	failed := 0
	for _, it := range items {
		o, ok := out[it.CustomID]
		if !ok {
			o = BatchOutcome{Err: eris.Wrapf(ErrBatchItemFailed, "record %s missing from results", it.CustomID)}
			out[it.CustomID] = o
		}
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		log.Warn("anthropic: batch records failed", zap.Int("failed", failed), zap.Int("records", len(items)))
	}
	return out, nil
}

// waitForBatch returns once batchID has ended. An expired or canceled job
// is an error.
func waitForBatch(ctx context.Context, client Client, batchID string, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultBatchTimeout)
		defer cancel()
	}

	for {
		status, err := client.BatchStatus(ctx, batchID)
		if err != nil {
			return eris.Wrapf(err, "anthropic: batch %s status", batchID)
		}
		switch status {
		case "ended":
			return nil
		case "expired", "canceled", "canceling":
			return eris.Errorf("anthropic: batch %s %s", batchID, status)
		}

		select {
		case <-ctx.Done():
			return eris.Wrapf(ctx.Err(), "anthropic: batch %s still %s", batchID, status)
		case <-time.After(interval):
		}
		interval = min(interval*2, maxPollInterval)
	}
}
