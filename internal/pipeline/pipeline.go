// Package pipeline implements the lead lifecycle stages: acquisition,
// classification, campaign submission, acceptance reconciliation, the
// follow-up review loop and CRM sync. Every stage reads and writes records
// through a store.Store and is safe to interrupt between records.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadflow/internal/config"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/quota"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/store"
	"github.com/sells-group/leadflow/pkg/campaign"
	"github.com/sells-group/leadflow/pkg/salesforce"
)

// ErrNotConfigured is returned when a stage runs without the client it needs.
var ErrNotConfigured = eris.New("pipeline: dependency not configured")

// Pipeline holds the stage dependencies. Construct it with New.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	quota      *quota.Controller
	extractor  Extractor
	classifier Classifier
	campaign   campaign.Client
	drafts     DraftGenerator
	crm        salesforce.Client
	criteria   string

	schema       VerdictSchema
	limits       Limits
	profilePaths []string

	claims  *claimer
	submits *resilience.CircuitBreaker
	now     func() time.Time
	newID   func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithQuota sets the acquisition budget controller.
func WithQuota(q *quota.Controller) Option {
	return func(p *Pipeline) { p.quota = q }
}

// WithExtractor sets the profile extractor used by AcquireBatch.
func WithExtractor(e Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithClassifier sets the verdict source.
func WithClassifier(c Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithCampaign sets the campaign service client.
func WithCampaign(c campaign.Client) Option {
	return func(p *Pipeline) { p.campaign = c }
}

// WithDraftGenerator sets the follow-up draft generator.
func WithDraftGenerator(g DraftGenerator) Option {
	return func(p *Pipeline) { p.drafts = g }
}

// WithCRM sets the Salesforce client used by SyncConnected.
func WithCRM(c salesforce.Client) Option {
	return func(p *Pipeline) { p.crm = c }
}

// WithCriteria sets the qualification criteria document passed to the classifier.
func WithCriteria(doc string) Option {
	return func(p *Pipeline) { p.criteria = doc }
}

// WithClock replaces time.Now for every timestamp the pipeline writes.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator replaces the record id generator.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// WithSubmitBreaker replaces the circuit breaker guarding AddLead.
func WithSubmitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Pipeline) { p.submits = cb }
}

// New creates a Pipeline over st.
func New(cfg *config.Config, st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:          cfg,
		store:        st,
		schema:       SchemaFromConfig(cfg.Classify),
		limits:       LimitsFromConfig(cfg.Classify),
		profilePaths: profilePathsFromConfig(cfg.Campaign.IdentityFields),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	if p.submits == nil {
		bc := resilience.DefaultCircuitBreakerConfig()
		bc.Name = "campaign.add_lead"
		bc.ShouldTrip = resilience.IsTransient
		p.submits = resilience.NewCircuitBreaker(bc)
	}
	ttl := time.Duration(cfg.Batch.ClaimTTLSecs) * time.Second
	p.claims = newClaimer(st, "leadflow-"+uuid.NewString(), ttl)
	return p
}

// Stats returns per-stage counts, the failed-submission bucket and today's quota.
func (p *Pipeline) Stats(ctx context.Context) (model.Stats, error) {
	counts, err := p.store.CountByStage(ctx)
	if err != nil {
		return model.Stats{}, eris.Wrap(err, "pipeline: count by stage")
	}
	failed, err := p.store.ListFailedSubmissions(ctx, 0)
	if err != nil {
		return model.Stats{}, eris.Wrap(err, "pipeline: list failed submissions")
	}

	st := model.Stats{ByStage: make(map[model.Stage]int, len(counts)), FailedSubmissions: len(failed)}
	for _, s := range model.AllStages() {
		st.ByStage[s] = counts[s]
		st.Total += counts[s]
	}
	if p.quota != nil {
		w, err := p.quota.Window(ctx)
		if err != nil {
			return model.Stats{}, err
		}
		st.Quota = w
	}
	return st, nil
}

// concurrency returns the worker pool size for batch stages.
func (p *Pipeline) concurrency() int {
	if n := p.cfg.Batch.Concurrency; n > 0 {
		return n
	}
	return 1
}

// forEach runs fn over recs on a bounded worker pool and tallies outcomes.
// Per-record errors are counted, never returned; only ctx cancellation
// stops the sweep early.
func (p *Pipeline) forEach(ctx context.Context, stage string, recs []model.Record, fn func(ctx context.Context, rec *model.Record) (outcome, error)) (model.BatchResult, error) {
	var (
		res model.BatchResult
		mu  sync.Mutex
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency())

	for i := range recs {
		rec := &recs[i]
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			out, err := fn(gCtx, rec)
			if err != nil {
				zap.L().Warn("pipeline: record failed",
					zap.String("stage", stage),
					zap.String("record_id", rec.ID),
					zap.Error(err),
				)
				out = outcomeFailed
			}
			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeSucceeded:
				res.Succeeded++
			case outcomeFailed:
				res.Failed++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("pipeline: batch complete",
		zap.String("stage", stage),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, ctx.Err()
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
)
