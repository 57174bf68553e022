package pipeline

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/pkg/campaign"
)

// ToCampaignLead maps a record onto the campaign service's lead schema.
// The name splits at the first whitespace; email is always blank because
// the sources never provide one.
func ToCampaignLead(rec *model.Record) campaign.Lead {
	first, last := splitName(rec.Name)
	lead := campaign.Lead{
		FirstName:   first,
		LastName:    last,
		ProfileURL:  rec.ExternalID,
		Location:    rec.Location,
		CompanyName: rec.Company,
		Position:    rec.Title,
		About:       rec.About,
	}
	if c := rec.Classification; c != nil {
		if c.Decision != "" {
			lead.CustomUserFields = append(lead.CustomUserFields, campaign.CustomField{Name: "decision", Value: c.Decision})
		}
		if c.Approach != "" {
			lead.CustomUserFields = append(lead.CustomUserFields, campaign.CustomField{Name: "approach", Value: c.Approach})
		}
	}
	return lead
}

func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	i := strings.IndexFunc(name, unicode.IsSpace)
	if i < 0 {
		return name, ""
	}
	return name[:i], strings.TrimSpace(name[i:])
}

// Submit enrols a qualified record with the campaign service. A record that
// was already submitted is returned unchanged without calling the service.
// The service is called exactly once; its failure is stored on the record
// rather than returned. Only store and claim errors are returned.
func (p *Pipeline) Submit(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if rec.IsSubmitted() || !rec.IsQualified() {
		return rec, nil
	}

	l, err := p.claims.acquire(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	defer l.release(ctx)

	fresh, err := p.store.Get(ctx, rec.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "submit: reload %s", rec.ID)
	}
	return p.submitLocked(ctx, l, fresh)
}

// submitLocked does the work of Submit under l, on the stored version of
// the record. The lease is renewed before the service call so nobody else
// can enrol the record while the call is in flight.
func (p *Pipeline) submitLocked(ctx context.Context, l *lease, rec *model.Record) (*model.Record, error) {
	if rec.IsSubmitted() || !rec.IsQualified() || rec.Stage != model.StageQualified {
		return rec, nil
	}
	if p.campaign == nil {
		return nil, eris.Wrap(ErrNotConfigured, "submit: no campaign client")
	}
	log := zap.L().With(zap.String("record_id", rec.ID), zap.String("stage", "submit"))

	if err := l.renew(ctx); err != nil {
		return nil, eris.Wrap(err, "submit")
	}

	listID := p.cfg.Campaign.ListID
	lead := ToCampaignLead(rec)
	resp, callErr := resilience.ExecuteVal(ctx, p.submits, func(ctx context.Context) (*campaign.AddLeadResponse, error) {
		return p.campaign.AddLead(ctx, lead, listID)
	})

	now := p.now().UTC()
	ref := model.CampaignRef{ListID: listID}
	if rec.CampaignRef != nil {
		ref.Attempts = rec.CampaignRef.Attempts
	}
	if !errors.Is(callErr, resilience.ErrCircuitOpen) {
		ref.Attempts++
	}

	if callErr != nil {
		ref.Error = resilience.Describe(callErr)
		ref.AttemptedAt = &now
		log.Warn("submit: campaign service rejected lead", zap.String("error", ref.Error), zap.Int("attempts", ref.Attempts))
	} else {
		ref.Submitted = true
		ref.SentAt = &now
		ref.ExternalID = rec.IdentityKey
		if resp != nil && resp.ID != "" {
			ref.ExternalID = resp.ID
		}
		rec.Stage = model.StageSubmitted
	}
	rec.CampaignRef = &ref

	if err := l.put(ctx, rec); err != nil {
		if ref.Submitted {
			log.Error("submit: lead enrolled but record not saved", zap.String("external_id", ref.ExternalID), zap.Error(err))
		}
		return nil, eris.Wrapf(err, "submit: put %s", rec.ID)
	}
	if ref.Submitted {
		log.Info("submit: lead enrolled", zap.String("external_id", ref.ExternalID))
	}
	return rec, nil
}

// ListFailedSubmissions returns qualified records whose last submission
// failed and that were never submitted successfully.
func (p *Pipeline) ListFailedSubmissions(ctx context.Context, limit int) ([]model.Record, error) {
	recs, err := p.store.ListFailedSubmissions(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "submit: list failed")
	}
	return recs, nil
}

// RetryFailed re-submits up to limit failed records. Each record gets one
// more call to the campaign service.
func (p *Pipeline) RetryFailed(ctx context.Context, limit int) (model.BatchResult, error) {
	recs, err := p.ListFailedSubmissions(ctx, limit)
	if err != nil {
		return model.BatchResult{}, err
	}
	return p.forEach(ctx, "submit_retry", recs, func(ctx context.Context, rec *model.Record) (outcome, error) {
		out, err := p.Submit(ctx, rec)
		switch {
		case errors.Is(err, ErrRecordBusy):
			return outcomeSkipped, nil
		case err != nil:
			return outcomeFailed, err
		case out.IsSubmitted():
			return outcomeSucceeded, nil
		default:
			return outcomeFailed, nil
		}
	})
}
