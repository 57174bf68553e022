package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/pkg/anthropic"
)

// Classifier renders a verdict on a record against a criteria document.
// The returned text is expected to contain one JSON verdict object.
type Classifier interface {
	Classify(ctx context.Context, rec *model.Record, criteria string) (string, error)
}

// BatchVerdict is one record's raw verdict text from a batch job, or the
// reason the job produced none for it.
type BatchVerdict struct {
	Text string
	Err  error
}

// BatchClassifier is implemented by classifiers that can render many
// verdicts in one asynchronous job, keyed by record ID.
type BatchClassifier interface {
	ClassifyAll(ctx context.Context, recs []*model.Record, criteria string) (map[string]BatchVerdict, error)
}

const classifyInstructions = `You qualify sales leads against the criteria that follow.
Answer with a single JSON object and nothing else:
{"decision": "<tier or decision>", "score": <0-100>, "reasoning": "<= 500 chars",
 "strengths": ["<= 100 chars", ...], "concerns": ["<= 100 chars", ...], "approach": "<= 500 chars"}
Use at most 5 strengths and 5 concerns.`

// AnthropicClassifier classifies with a Claude model. The criteria document
// is sent as a cached system block so repeated calls reuse it.
type AnthropicClassifier struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	poll      time.Duration
}

// ClassifierOption configures an AnthropicClassifier.
type ClassifierOption func(*AnthropicClassifier)

// WithClassifierRetry replaces the retry policy for single calls.
func WithClassifierRetry(cfg resilience.RetryConfig) ClassifierOption {
	return func(c *AnthropicClassifier) { c.retry = cfg }
}

// WithClassifierBreaker replaces the circuit breaker.
func WithClassifierBreaker(cb *resilience.CircuitBreaker) ClassifierOption {
	return func(c *AnthropicClassifier) { c.breaker = cb }
}

// WithBatchPolling sets the first status poll interval used by ClassifyAll.
func WithBatchPolling(d time.Duration) ClassifierOption {
	return func(c *AnthropicClassifier) { c.poll = d }
}

// NewAnthropicClassifier creates a classifier using model.
func NewAnthropicClassifier(client anthropic.Client, model string, opts ...ClassifierOption) *AnthropicClassifier {
	c := &AnthropicClassifier{
		client:    client,
		model:     model,
		maxTokens: 1024,
		retry:     resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("anthropic", "classify")
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		bc := resilience.DefaultCircuitBreakerConfig()
		bc.Name = "anthropic.classify"
		bc.ShouldTrip = resilience.IsTransient
		c.breaker = resilience.NewCircuitBreaker(bc)
	}
	return c
}

func (c *AnthropicClassifier) request(rec *model.Record, criteria string) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    anthropic.CriteriaSystemBlocks(classifyInstructions, criteria),
		Messages:  []anthropic.Message{{Role: "user", Content: RenderProfile(rec)}},
	}
}

// Classify implements Classifier.
func (c *AnthropicClassifier) Classify(ctx context.Context, rec *model.Record, criteria string) (string, error) {
	req := c.request(rec, criteria)
	resp, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return c.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		return "", eris.Wrap(err, "classify: create message")
	}
	resp.Usage.LogUsage(c.model, "classify", false)
	return resp.Text(), nil
}

// ClassifyAll implements BatchClassifier via the Message Batches API.
func (c *AnthropicClassifier) ClassifyAll(ctx context.Context, recs []*model.Record, criteria string) (map[string]BatchVerdict, error) {
	items := make([]anthropic.BatchRequestItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, anthropic.BatchRequestItem{CustomID: r.ID, Params: c.request(r, criteria)})
	}
	if len(items) > 0 {
		// A cold cache only costs more; the batch still runs.
		if err := anthropic.WarmCache(ctx, c.client, items[0].Params); err != nil {
			zap.L().Warn("classify: cache warm-up failed", zap.Error(err))
		}
	}
	result, err := anthropic.RunBatch(ctx, c.client, items, c.poll)
	if err != nil {
		return nil, eris.Wrap(err, "classify: run batch")
	}
	out := make(map[string]BatchVerdict, len(result))
	var usage anthropic.TokenUsage
	for id, o := range result {
		out[id] = BatchVerdict{Text: o.Text, Err: o.Err}
		usage.InputTokens += o.Usage.InputTokens
		usage.OutputTokens += o.Usage.OutputTokens
		usage.CacheCreationInputTokens += o.Usage.CacheCreationInputTokens
		usage.CacheReadInputTokens += o.Usage.CacheReadInputTokens
	}
	usage.LogUsage(c.model, "classify", true)
	return out, nil
}

// RenderProfile formats a record as the classifier's user prompt.
func RenderProfile(rec *model.Record) string {
	var b strings.Builder
	line := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	line("Name", rec.Name)
	line("Title", rec.Title)
	line("Company", rec.Company)
	line("Location", rec.Location)
	line("Profile", rec.ExternalID)
	if rec.About != "" {
		fmt.Fprintf(&b, "\nAbout:\n%s\n", rec.About)
	}
	list := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s:\n", label)
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
	}
	list("Experience", rec.Experience)
	list("Education", rec.Education)
	return b.String()
}

// ClassifyOne classifies a record in stage new. Records in any other stage
// are returned unchanged. A classifier or parse failure is recorded as a
// synthetic disqualifying verdict; a verdict that breaks the length limits
// is rejected with ErrVerdictTooLong and nothing is stored. A qualifying
// verdict is submitted to the campaign service before returning.
func (p *Pipeline) ClassifyOne(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if rec.Stage != model.StageNew {
		return rec, nil
	}
	if p.classifier == nil {
		return nil, eris.Wrap(ErrNotConfigured, "classify: no classifier")
	}

	l, err := p.claims.acquire(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	defer l.release(ctx)

	fresh, err := p.store.Get(ctx, rec.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: reload %s", rec.ID)
	}
	if fresh.Stage != model.StageNew {
		return fresh, nil
	}

	text, cerr := p.classifier.Classify(ctx, fresh, p.criteria)
	if cerr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return p.applyVerdict(ctx, l, fresh, text, cerr)
}

// applyVerdict persists the outcome of one classification under l.
func (p *Pipeline) applyVerdict(ctx context.Context, l *lease, rec *model.Record, text string, cerr error) (*model.Record, error) {
	log := zap.L().With(zap.String("record_id", rec.ID))
	cls := model.Classification{
		Model:        p.cfg.Anthropic.SonnetModel,
		Raw:          text,
		ClassifiedAt: p.now().UTC(),
	}

	var v *Verdict
	perr := cerr
	if perr == nil {
		v, perr = ParseVerdict(text, p.schema)
	}

	if perr != nil {
		log.Warn("classify: no usable verdict, disqualifying", zap.Error(perr))
		cls.Decision = "SKIP"
		cls.Synthetic = true
		cls.Reasoning = truncateRunes(perr.Error(), p.limits.MaxProse)
	} else {
		if err := ValidateVerdict(v, p.limits); err != nil {
			return nil, err
		}
		cls.Decision = v.Decision
		cls.Score = v.Score
		cls.Reasoning = v.Reasoning
		cls.Strengths = v.Strengths
		cls.Concerns = v.Concerns
		cls.Approach = v.Approach
		cls.Qualified = v.Qualifies(p.cfg.Classify.QualifyingDecision, p.cfg.Classify.MinScore)
	}

	rec.ClassificationHistory = append(rec.ClassificationHistory, cls)
	current := cls
	rec.Classification = &current
	if cls.Qualified {
		rec.Stage = model.StageQualified
	} else {
		rec.Stage = model.StageDisqualified
	}
	if err := l.put(ctx, rec); err != nil {
		return nil, eris.Wrapf(err, "classify: put %s", rec.ID)
	}
	log.Info("classify: verdict stored",
		zap.String("decision", cls.Decision),
		zap.Bool("qualified", cls.Qualified),
		zap.Bool("synthetic", cls.Synthetic),
	)

	if cls.Qualified && p.cfg.Classify.AutoSubmit && p.campaign != nil {
		return p.submitLocked(ctx, l, rec)
	}
	return rec, nil
}

// ClassifyNext classifies the oldest unclaimed record in stage new. It
// returns nil when there is nothing to classify.
func (p *Pipeline) ClassifyNext(ctx context.Context) (*model.Record, error) {
	recs, err := p.store.QueryByStage(ctx, model.StageNew, p.concurrency()+1)
	if err != nil {
		return nil, eris.Wrap(err, "classify: query new records")
	}
	for i := range recs {
		out, err := p.ClassifyOne(ctx, &recs[i])
		if errors.Is(err, ErrRecordBusy) {
			continue
		}
		return out, err
	}
	return nil, nil
}

// ClassifyBatch classifies up to limit records in stage new on the worker
// pool. Above the small-batch threshold, verdicts come from one Message
// Batches job instead of per-record calls.
func (p *Pipeline) ClassifyBatch(ctx context.Context, limit int) (model.BatchResult, error) {
	if p.classifier == nil {
		return model.BatchResult{}, eris.Wrap(ErrNotConfigured, "classify: no classifier")
	}
	recs, err := p.store.QueryByStage(ctx, model.StageNew, limit)
	if err != nil {
		return model.BatchResult{}, eris.Wrap(err, "classify: query new records")
	}
	if len(recs) == 0 {
		return model.BatchResult{}, nil
	}

	bc, ok := p.classifier.(BatchClassifier)
	if ok && !p.cfg.Anthropic.NoBatch && len(recs) > p.cfg.Anthropic.SmallBatchThreshold {
		return p.classifyViaBatch(ctx, bc, recs)
	}

	return p.forEach(ctx, "classify", recs, func(ctx context.Context, rec *model.Record) (outcome, error) {
		out, err := p.ClassifyOne(ctx, rec)
		return classifyOutcome(out, err)
	})
}

func (p *Pipeline) classifyViaBatch(ctx context.Context, bc BatchClassifier, recs []model.Record) (model.BatchResult, error) {
	ptrs := make([]*model.Record, len(recs))
	for i := range recs {
		ptrs[i] = &recs[i]
	}
	zap.L().Info("classify: using message batch", zap.Int("records", len(recs)))

	verdicts, err := bc.ClassifyAll(ctx, ptrs, p.criteria)
	if err != nil {
		return model.BatchResult{}, err
	}

	return p.forEach(ctx, "classify", recs, func(ctx context.Context, rec *model.Record) (outcome, error) {
		l, err := p.claims.acquire(ctx, rec.ID)
		if err != nil {
			return classifyOutcome(nil, err)
		}
		defer l.release(ctx)

		fresh, err := p.store.Get(ctx, rec.ID)
		if err != nil {
			return outcomeFailed, err
		}
		if fresh.Stage != model.StageNew {
			return outcomeSkipped, nil
		}
		v, found := verdicts[rec.ID]
		if !found {
			v.Err = eris.Errorf("classify: batch returned no result for %s", rec.ID)
		}
		out, err := p.applyVerdict(ctx, l, fresh, v.Text, v.Err)
		return classifyOutcome(out, err)
	})
}

func classifyOutcome(rec *model.Record, err error) (outcome, error) {
	switch {
	case errors.Is(err, ErrRecordBusy):
		return outcomeSkipped, nil
	case err != nil:
		return outcomeFailed, err
	case rec == nil:
		return outcomeSkipped, nil
	case rec.Classification != nil && rec.Classification.Synthetic:
		return outcomeFailed, nil
	default:
		return outcomeSucceeded, nil
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
