package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/store"
	"github.com/sells-group/leadflow/pkg/salesforce"
)

// ToCRMLead maps a connected record onto a Salesforce Lead.
func ToCRMLead(rec *model.Record, leadSource string) salesforce.Lead {
	first, last := splitName(rec.Name)
	if last == "" {
		first, last = "", first
	}
	lead := salesforce.Lead{
		FirstName:   first,
		LastName:    last,
		Company:     rec.Company,
		Title:       rec.Title,
		LinkedInURL: rec.ExternalID,
		LeadSource:  leadSource,
	}
	if c := rec.Classification; c != nil {
		lead.Description = c.Decision
		if c.Reasoning != "" {
			lead.Description += ": " + c.Reasoning
		}
	}
	return lead
}

// SyncConnected creates or updates a CRM lead for up to limit connected
// records that have none yet, and stores the CRM id on each record.
func (p *Pipeline) SyncConnected(ctx context.Context, limit int) (model.BatchResult, error) {
	if p.crm == nil {
		return model.BatchResult{}, eris.Wrap(ErrNotConfigured, "crm: no salesforce client")
	}
	recs, err := p.store.ListAll(ctx, store.ListFilter{NeedsCRMSync: true, Limit: limit})
	if err != nil {
		return model.BatchResult{}, eris.Wrap(err, "crm: list records")
	}
	return p.forEach(ctx, "crm_sync", recs, func(ctx context.Context, rec *model.Record) (outcome, error) {
		_, err := p.mutate(ctx, rec.ID, func(fresh *model.Record) error {
			if fresh.CRMID != "" {
				return errAlreadySynced
			}
			id, err := salesforce.UpsertLead(ctx, p.crm, ToCRMLead(fresh, p.cfg.Salesforce.LeadSource))
			if err != nil {
				return err
			}
			fresh.CRMID = id
			zap.L().Info("crm: lead synced", zap.String("record_id", fresh.ID), zap.String("crm_id", id))
			return nil
		})
		switch {
		case errors.Is(err, errAlreadySynced), errors.Is(err, ErrRecordBusy):
			return outcomeSkipped, nil
		case err != nil:
			return outcomeFailed, err
		}
		return outcomeSucceeded, nil
	})
}

var errAlreadySynced = eris.New("crm: record already synced")
