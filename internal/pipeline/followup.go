package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/pkg/anthropic"
)

var (
	// ErrNoFollowup means the record has no draft to act on.
	ErrNoFollowup = eris.New("followup: record has no draft")
	// ErrNotApproved means the draft must be approved before it is sent.
	ErrNotApproved = eris.New("followup: draft is not approved")
	// ErrWrongStage means the record is not at a stage the action accepts.
	ErrWrongStage = eris.New("followup: record is at the wrong stage")
	// ErrEmptyDraft means a blank draft was supplied.
	ErrEmptyDraft = eris.New("followup: draft text is empty")
	// ErrDraftTooLong means the draft exceeds followup.max_chars.
	ErrDraftTooLong = eris.New("followup: draft is too long")
)

// NextNeedingDraft returns the oldest connected record without a draft,
// or nil when none is left.
func (p *Pipeline) NextNeedingDraft(ctx context.Context) (*model.Record, error) {
	rec, err := p.store.NextNeedingDraft(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "followup: next needing draft")
	}
	return rec, nil
}

// SaveDraft stores text as the unapproved draft of a connected record.
func (p *Pipeline) SaveDraft(ctx context.Context, id, text string) (*model.Record, error) {
	return p.mutate(ctx, id, func(rec *model.Record) error {
		if rec.Stage != model.StageConnected || rec.Followup != nil {
			return eris.Wrapf(ErrWrongStage, "save draft: record %s is %s", rec.ID, rec.Stage)
		}
		text, err := p.checkDraft(text)
		if err != nil {
			return err
		}
		rec.Followup = &model.Followup{Text: text, GeneratedAt: p.now().UTC()}
		rec.Stage = model.StageFollowupDrafted
		return nil
	})
}

// Approve marks the current draft approved.
func (p *Pipeline) Approve(ctx context.Context, id string) (*model.Record, error) {
	return p.mutate(ctx, id, func(rec *model.Record) error {
		if rec.Followup == nil {
			return eris.Wrapf(ErrNoFollowup, "approve: record %s", rec.ID)
		}
		if rec.Followup.Sent {
			return eris.Wrapf(ErrWrongStage, "approve: record %s already sent", rec.ID)
		}
		now := p.now().UTC()
		rec.Followup.Approved = true
		rec.Followup.ApprovedAt = &now
		rec.Stage = model.StageFollowupApproved
		return nil
	})
}

// Revise replaces the draft text. Any approval is withdrawn.
func (p *Pipeline) Revise(ctx context.Context, id, text string) (*model.Record, error) {
	return p.mutate(ctx, id, func(rec *model.Record) error {
		if rec.Followup == nil {
			return eris.Wrapf(ErrNoFollowup, "revise: record %s", rec.ID)
		}
		if rec.Followup.Sent {
			return eris.Wrapf(ErrWrongStage, "revise: record %s already sent", rec.ID)
		}
		text, err := p.checkDraft(text)
		if err != nil {
			return err
		}
		rec.Followup.Text = text
		rec.Followup.Approved = false
		rec.Followup.ApprovedAt = nil
		rec.Followup.Revisions++
		rec.Stage = model.StageFollowupDrafted
		return nil
	})
}

// MarkSent records that the approved draft went out and moves the record
// to ready.
func (p *Pipeline) MarkSent(ctx context.Context, id string) (*model.Record, error) {
	return p.mutate(ctx, id, func(rec *model.Record) error {
		if rec.Followup == nil {
			return eris.Wrapf(ErrNoFollowup, "mark sent: record %s", rec.ID)
		}
		if !rec.Followup.Approved {
			return eris.Wrapf(ErrNotApproved, "mark sent: record %s", rec.ID)
		}
		if rec.Followup.Sent {
			return nil
		}
		now := p.now().UTC()
		rec.Followup.Sent = true
		rec.Followup.SentAt = &now
		rec.Stage = model.StageReady
		return nil
	})
}

func (p *Pipeline) checkDraft(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyDraft
	}
	if max := p.cfg.Followup.MaxChars; max > 0 && len([]rune(text)) > max {
		return "", eris.Wrapf(ErrDraftTooLong, "%d chars, limit %d", len([]rune(text)), max)
	}
	return text, nil
}

// mutate claims id, applies fn to the stored record and saves it in one Put.
func (p *Pipeline) mutate(ctx context.Context, id string, fn func(rec *model.Record) error) (*model.Record, error) {
	l, err := p.claims.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer l.release(ctx)

	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load %s", id)
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := l.put(ctx, rec); err != nil {
		return nil, eris.Wrapf(err, "pipeline: put %s", id)
	}
	zap.L().Info("pipeline: record updated", zap.String("record_id", id), zap.String("stage", string(rec.Stage)))
	return rec, nil
}

// DraftGenerator writes a follow-up message for a connected record.
type DraftGenerator interface {
	Draft(ctx context.Context, rec *model.Record) (string, error)
}

// DraftNext drafts a message for the next record needing one and saves it
// unapproved. It returns nil when there is nothing to draft.
func (p *Pipeline) DraftNext(ctx context.Context) (*model.Record, error) {
	if p.drafts == nil {
		return nil, eris.Wrap(ErrNotConfigured, "followup: no draft generator")
	}
	rec, err := p.NextNeedingDraft(ctx)
	if err != nil || rec == nil {
		return nil, err
	}
	text, err := p.drafts.Draft(ctx, rec)
	if err != nil {
		return nil, eris.Wrapf(err, "followup: draft %s", rec.ID)
	}
	return p.SaveDraft(ctx, rec.ID, text)
}

const draftInstructions = `You write short, friendly LinkedIn follow-up messages to people
who just accepted a connection request. Plain text only, no subject line, no placeholders.
Keep it under %d characters. Reply with the message text and nothing else.`

// AnthropicDraftGenerator drafts follow-ups with a Claude model.
type AnthropicDraftGenerator struct {
	client   anthropic.Client
	model    string
	prompt   string
	maxChars int
	retry    resilience.RetryConfig
}

// NewAnthropicDraftGenerator creates a generator. prompt is extra guidance
// appended to the instructions and may be empty.
func NewAnthropicDraftGenerator(client anthropic.Client, model, prompt string, maxChars int) *AnthropicDraftGenerator {
	if maxChars <= 0 {
		maxChars = 600
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "draft")
	return &AnthropicDraftGenerator{client: client, model: model, prompt: prompt, maxChars: maxChars, retry: retry}
}

// Draft implements DraftGenerator.
func (g *AnthropicDraftGenerator) Draft(ctx context.Context, rec *model.Record) (string, error) {
	var user strings.Builder
	user.WriteString(RenderProfile(rec))
	if c := rec.Classification; c != nil && c.Approach != "" {
		fmt.Fprintf(&user, "\nSuggested approach: %s\n", c.Approach)
	}

	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return g.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     g.model,
			MaxTokens: 512,
			System:    anthropic.CriteriaSystemBlocks(fmt.Sprintf(draftInstructions, g.maxChars), g.prompt),
			Messages:  []anthropic.Message{{Role: "user", Content: user.String()}},
		})
	})
	if err != nil {
		return "", eris.Wrap(err, "draft: create message")
	}
	resp.Usage.LogUsage(g.model, "draft", false)

	text := strings.TrimSpace(resp.Text())
	if r := []rune(text); len(r) > g.maxChars {
		text = string(r[:g.maxChars])
	}
	return text, nil
}
