package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/identity"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/store"
)

const defaultPageSize = 100

// ReconcileResult tallies one reconciliation pass.
type ReconcileResult struct {
	Matched        int `json:"matched" yaml:"matched"`
	AlreadyTracked int `json:"already_tracked" yaml:"already_tracked"`
	Unmatched      int `json:"unmatched" yaml:"unmatched"`
	NotEligible    int `json:"not_eligible" yaml:"not_eligible"`
	Ignored        int `json:"ignored" yaml:"ignored"`
	Malformed      int `json:"malformed" yaml:"malformed"`
	Pages          int `json:"pages" yaml:"pages"`
}

// Lead payload paths, checked in order; the service has shipped several shapes.
var (
	defaultProfilePaths = []string{
		"linkedInUserProfile.profileUrl",
		"profileUrl",
		"linkedin_url",
		"lead.profileUrl",
		"profile.url",
	}
	statusPaths = []string{"status", "leadStatus", "connectionStatus", "lead.status"}
	leadIDPaths = []string{"id", "leadId", "lead.id", "linkedInUserProfile.id"}
)

// campaignLead is the part of a campaign lead payload reconciliation reads.
type campaignLead struct {
	ID         string
	Status     string
	ProfileURL string
}

// profilePathsFromConfig puts the configured identity paths ahead of the
// built-in ones, without duplicates.
func profilePathsFromConfig(fields []string) []string {
	paths := make([]string, 0, len(fields)+len(defaultProfilePaths))
	seen := make(map[string]bool)
	for _, f := range append(append([]string(nil), fields...), defaultProfilePaths...) {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		paths = append(paths, f)
	}
	return paths
}

func parseCampaignLead(raw json.RawMessage, profilePaths []string) (campaignLead, error) {
	if !gjson.ValidBytes(raw) {
		return campaignLead{}, eris.New("reconcile: lead is not valid json")
	}
	l := campaignLead{
		ID:         firstPath(raw, leadIDPaths),
		Status:     firstPath(raw, statusPaths),
		ProfileURL: firstPath(raw, profilePaths),
	}
	if l.Status == "" {
		return l, eris.New("reconcile: lead has no status")
	}
	return l, nil
}

func firstPath(raw []byte, paths []string) string {
	for _, p := range paths {
		if r := gjson.GetBytes(raw, p); r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

// Reconcile pages through the leads of campaignID and moves every accepted
// lead's record from submit_pending to connected. Paging stops at a short
// page or once offset reaches the reported total. Leads with any status
// other than the accepted sentinel are ignored. Running it twice is safe.
func (p *Pipeline) Reconcile(ctx context.Context, campaignID string) (ReconcileResult, error) {
	var res ReconcileResult
	if p.campaign == nil {
		return res, eris.Wrap(ErrNotConfigured, "reconcile: no campaign client")
	}
	pageSize := p.cfg.Campaign.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	accepted := p.cfg.Campaign.AcceptedStatus
	log := zap.L().With(zap.String("stage", "reconcile"), zap.String("campaign_id", campaignID))

	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := p.campaign.ListCampaignLeads(ctx, campaignID, offset, pageSize)
		if err != nil {
			return res, eris.Wrapf(err, "reconcile: list leads at offset %d", offset)
		}
		res.Pages++

		for _, raw := range page.Items {
			lead, err := parseCampaignLead(raw, p.profilePaths)
			if err != nil {
				log.Warn("reconcile: skipping malformed lead", zap.Error(err))
				res.Malformed++
				continue
			}
			if lead.Status != accepted {
				res.Ignored++
				continue
			}
			if err := p.acceptLead(ctx, campaignID, lead, &res); err != nil {
				return res, err
			}
		}

		offset += len(page.Items)
		if len(page.Items) < pageSize {
			break
		}
		if page.TotalCount > 0 && offset >= page.TotalCount {
			break
		}
	}

	log.Info("reconcile: complete",
		zap.Int("matched", res.Matched),
		zap.Int("already_tracked", res.AlreadyTracked),
		zap.Int("unmatched", res.Unmatched),
		zap.Int("not_eligible", res.NotEligible),
		zap.Int("ignored", res.Ignored),
		zap.Int("malformed", res.Malformed),
	)
	return res, nil
}

// acceptLead applies one accepted lead. Only store errors are returned.
func (p *Pipeline) acceptLead(ctx context.Context, campaignID string, lead campaignLead, res *ReconcileResult) error {
	key := identity.Normalize(lead.ProfileURL)
	if key == "" {
		zap.L().Warn("reconcile: accepted lead has no profile url", zap.String("lead_id", lead.ID))
		res.Malformed++
		return nil
	}

	rec, err := p.store.GetByIdentity(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Info("reconcile: accepted lead has no local record", zap.String("identity", key))
		res.Unmatched++
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "reconcile: lookup %s", key)
	}

	if res.skip(rec) {
		return nil
	}

	l, err := p.claims.acquire(ctx, rec.ID)
	if errors.Is(err, ErrRecordBusy) {
		zap.L().Info("reconcile: record busy, will match next pass", zap.String("record_id", rec.ID))
		res.NotEligible++
		return nil
	}
	if err != nil {
		return err
	}
	defer l.release(ctx)

	id := rec.ID
	rec, err = p.store.Get(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "reconcile: reload %s", id)
	}
	if res.skip(rec) {
		return nil
	}

	extID := lead.ID
	if extID == "" && rec.CampaignRef != nil {
		extID = rec.CampaignRef.ExternalID
	}
	rec.Acceptance = &model.Acceptance{
		AcceptedAt: p.now().UTC(),
		ExternalID: extID,
		CampaignID: campaignID,
	}
	rec.Stage = model.StageConnected
	if err := l.put(ctx, rec); err != nil {
		return eris.Wrapf(err, "reconcile: put %s", rec.ID)
	}
	res.Matched++
	return nil
}

// skip counts a record that must not transition and reports whether it did.
func (r *ReconcileResult) skip(rec *model.Record) bool {
	switch {
	case rec.Stage.AtLeast(model.StageConnected):
		r.AlreadyTracked++
	case rec.Stage != model.StageSubmitted || !rec.IsSubmitted():
		r.NotEligible++
	default:
		return false
	}
	return true
}
