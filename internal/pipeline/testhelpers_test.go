package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/config"
	"github.com/sells-group/leadflow/internal/identity"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/quota"
	"github.com/sells-group/leadflow/internal/store"
	"github.com/sells-group/leadflow/pkg/anthropic"
)

var testNow = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{
			HaikuModel:          "claude-haiku-4-5-20251001",
			SonnetModel:         "claude-sonnet-4-5-20250929",
			SmallBatchThreshold: 3,
		},
		Campaign: config.CampaignConfig{
			ListID:         "list-1",
			AcceptedStatus: "CONNECTION_ACCEPTED",
			PageSize:       2,
		},
		Classify: config.ClassifyConfig{
			QualifyingDecision: []string{"TIER_1", "TIER_2"},
			MinScore:           70,
			DecisionField:      "decision",
			MaxProseLen:        500,
			MaxListItems:       5,
			MaxListItemLen:     100,
			AutoSubmit:         true,
		},
		Followup:   config.FollowupConfig{MaxChars: 600},
		Batch:      config.BatchConfig{Concurrency: 3, ClaimTTLSecs: 60},
		Salesforce: config.SalesforceConfig{LeadSource: "LinkedIn Outreach"},
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// tickingClock advances one second per call so creation order is stable.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	cur := testNow
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("rec-%03d", n.Add(1)) }
}

func newTestPipeline(t *testing.T, st store.Store, opts ...Option) *Pipeline {
	t.Helper()
	base := []Option{WithClock(tickingClock()), WithIDGenerator(sequentialIDs()), WithCriteria("TIER_1: founders")}
	return New(testConfig(), st, append(base, opts...)...)
}

// testQuota returns a controller that never sleeps and counts its pauses.
func testQuota(st quota.Store, limit int) (*quota.Controller, *atomic.Int32) {
	var pauses atomic.Int32
	q := quota.New(st, quota.Config{
		DailyLimit: limit,
		MinDelay:   time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		StdDev:     time.Millisecond,
	},
		quota.WithClock(func() time.Time { return testNow }),
		quota.WithSleep(func(ctx context.Context, _ time.Duration) error {
			pauses.Add(1)
			return ctx.Err()
		}),
	)
	return q, &pauses
}

func score(f float64) *float64 { return &f }

// seed stores rec at the stage its fields imply and returns the stored copy.
func seed(t *testing.T, st store.Store, rec *model.Record) *model.Record {
	t.Helper()
	if rec.IdentityKey == "" {
		rec.IdentityKey = identity.Normalize(rec.ExternalID)
	}
	require.NoError(t, st.Put(context.Background(), rec))
	got, err := st.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	return got
}

func newLead(id, url string) *model.Record {
	return &model.Record{
		ID:         id,
		ExternalID: url,
		Name:       "Jane Q Doe",
		Title:      "VP Sales",
		Company:    "Acme",
		Location:   "Austin, TX",
		Stage:      model.StageNew,
	}
}

func qualifiedLead(id, url string) *model.Record {
	rec := newLead(id, url)
	rec.Stage = model.StageQualified
	rec.Classification = &model.Classification{
		Decision:  "TIER_1",
		Score:     score(90),
		Qualified: true,
		Approach:  "Mention the podcast",
	}
	rec.ClassificationHistory = []model.Classification{*rec.Classification}
	return rec
}

func submittedLead(id, url string) *model.Record {
	rec := qualifiedLead(id, url)
	sent := testNow
	rec.Stage = model.StageSubmitted
	rec.CampaignRef = &model.CampaignRef{Submitted: true, SentAt: &sent, ExternalID: "hr-" + id, Attempts: 1}
	return rec
}

func connectedLead(id, url string) *model.Record {
	rec := submittedLead(id, url)
	rec.Stage = model.StageConnected
	rec.Acceptance = &model.Acceptance{AcceptedAt: testNow, ExternalID: "hr-" + id}
	return rec
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: text}}}
}

const qualifyingVerdict = `Here is my assessment:
{"decision": "TIER_1", "score": 88, "reasoning": "Founder of a {growing} agency",
 "strengths": ["decision maker"], "concerns": [], "approach": "Open with the agency's recent hire"}
Let me know if you need more.`

const rejectingVerdict = `{"decision": "NOT_A_FIT", "score": 20, "reasoning": "Student", "strengths": [], "concerns": ["no budget"], "approach": ""}`

// sliceIterator yields fixed batch results.
type sliceIterator struct {
	items []anthropic.BatchResultItem
	idx   int
}

func newSliceIterator(items ...anthropic.BatchResultItem) *sliceIterator {
	return &sliceIterator{items: items, idx: -1}
}

func (s *sliceIterator) Next() bool {
	if s.idx+1 < len(s.items) {
		s.idx++
		return true
	}
	return false
}

func (s *sliceIterator) Item() anthropic.BatchResultItem { return s.items[s.idx] }
func (s *sliceIterator) Err() error                      { return nil }
func (s *sliceIterator) Close() error                    { return nil }
