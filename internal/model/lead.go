package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Stage is the current position of a Record in its lifecycle.
type Stage string

const (
	StageNew              Stage = "new"
	StageQualified        Stage = "qualified"
	StageDisqualified     Stage = "disqualified"
	StageSubmitted        Stage = "submit_pending"
	StageConnected        Stage = "connected"
	StageFollowupDrafted  Stage = "followup_drafted"
	StageFollowupApproved Stage = "followup_approved"
	StageReady            Stage = "ready"
)

// stageRank orders stages along the lifecycle. Disqualified shares the
// classified rank with qualified but is terminal.
var stageRank = map[Stage]int{
	StageNew:              0,
	StageQualified:        1,
	StageDisqualified:     1,
	StageSubmitted:        2,
	StageConnected:        3,
	StageFollowupDrafted:  4,
	StageFollowupApproved: 5,
	StageReady:            6,
}

// AllStages returns every stage in lifecycle order.
func AllStages() []Stage {
	return []Stage{
		StageNew,
		StageQualified,
		StageDisqualified,
		StageSubmitted,
		StageConnected,
		StageFollowupDrafted,
		StageFollowupApproved,
		StageReady,
	}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Rank returns the lifecycle position of s, or -1 for unknown stages.
func (s Stage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// AtLeast reports whether s is at or beyond other in the lifecycle.
// Disqualified records are never at least any post-classification stage.
func (s Stage) AtLeast(other Stage) bool {
	if s == StageDisqualified && other != StageNew && other != StageDisqualified {
		return false
	}
	return s.Rank() >= other.Rank()
}

// Record is a person discovered from an external source and tracked through
// qualification and outreach.
type Record struct {
	ID          string   `json:"id" yaml:"id"`
	ExternalID  string   `json:"external_id" yaml:"external_id"`
	IdentityKey string   `json:"identity_key" yaml:"identity_key"`
	Name        string   `json:"name" yaml:"name"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty"`
	Company     string   `json:"company,omitempty" yaml:"company,omitempty"`
	Location    string   `json:"location,omitempty" yaml:"location,omitempty"`
	About       string   `json:"about,omitempty" yaml:"about,omitempty"`
	Experience  []string `json:"experience,omitempty" yaml:"experience,omitempty"`
	Education   []string `json:"education,omitempty" yaml:"education,omitempty"`
	Source      string   `json:"source,omitempty" yaml:"source,omitempty"`
	Stage       Stage    `json:"stage" yaml:"stage"`

	Classification        *Classification  `json:"classification,omitempty" yaml:"classification,omitempty"`
	ClassificationHistory []Classification `json:"classification_history,omitempty" yaml:"classification_history,omitempty"`
	CampaignRef           *CampaignRef     `json:"campaign_ref,omitempty" yaml:"campaign_ref,omitempty"`
	Acceptance            *Acceptance      `json:"acceptance,omitempty" yaml:"acceptance,omitempty"`
	Followup              *Followup        `json:"followup,omitempty" yaml:"followup,omitempty"`
	CRMID                 string           `json:"crm_id,omitempty" yaml:"crm_id,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Classification is a single verdict rendered by the classifier.
type Classification struct {
	Decision     string    `json:"decision" yaml:"decision"`
	Score        *float64  `json:"score,omitempty" yaml:"score,omitempty"`
	Qualified    bool      `json:"qualified" yaml:"qualified"`
	Reasoning    string    `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Strengths    []string  `json:"strengths,omitempty" yaml:"strengths,omitempty"`
	Concerns     []string  `json:"concerns,omitempty" yaml:"concerns,omitempty"`
	Approach     string    `json:"approach,omitempty" yaml:"approach,omitempty"`
	Synthetic    bool      `json:"synthetic,omitempty" yaml:"synthetic,omitempty"` // set when the verdict was synthesized after a failure
	Model        string    `json:"model,omitempty" yaml:"model,omitempty"`
	Raw          string    `json:"raw,omitempty" yaml:"raw,omitempty"`
	ClassifiedAt time.Time `json:"classified_at" yaml:"classified_at"`
}

// CampaignRef records the outcome of submitting a record to the campaign service.
type CampaignRef struct {
	Submitted   bool       `json:"submitted" yaml:"submitted"`
	SentAt      *time.Time `json:"sent_at,omitempty" yaml:"sent_at,omitempty"`
	ExternalID  string     `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	ListID      string     `json:"list_id,omitempty" yaml:"list_id,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	AttemptedAt *time.Time `json:"attempted_at,omitempty" yaml:"attempted_at,omitempty"`
	Attempts    int        `json:"attempts" yaml:"attempts"`
}

// Acceptance records that the campaign service reported an accepted connection.
type Acceptance struct {
	AcceptedAt time.Time `json:"accepted_at" yaml:"accepted_at"`
	ExternalID string    `json:"external_id" yaml:"external_id"`
	CampaignID string    `json:"campaign_id,omitempty" yaml:"campaign_id,omitempty"`
}

// Followup holds the follow-up message draft and its review state.
type Followup struct {
	Text        string     `json:"text" yaml:"text"`
	GeneratedAt time.Time  `json:"generated_at" yaml:"generated_at"`
	Approved    bool       `json:"approved" yaml:"approved"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty" yaml:"approved_at,omitempty"`
	Sent        bool       `json:"sent" yaml:"sent"`
	SentAt      *time.Time `json:"sent_at,omitempty" yaml:"sent_at,omitempty"`
	Revisions   int        `json:"revisions" yaml:"revisions"`
}

// IsSubmitted reports whether the record has a successful campaign submission.
func (r *Record) IsSubmitted() bool {
	return r.CampaignRef != nil && r.CampaignRef.Submitted
}

// SubmissionFailed reports whether the last submission attempt failed and no
// successful submission exists.
func (r *Record) SubmissionFailed() bool {
	return r.CampaignRef != nil && !r.CampaignRef.Submitted && r.CampaignRef.Error != ""
}

// IsQualified reports whether the current classification qualifies the record.
func (r *Record) IsQualified() bool {
	return r.Classification != nil && r.Classification.Qualified
}

// Validate checks the lifecycle invariant
// acceptance != nil => submitted => classification.qualified.
func (r *Record) Validate() error {
	if !r.Stage.Valid() {
		return eris.Errorf("record %s: unknown stage %q", r.ID, r.Stage)
	}
	if r.Acceptance != nil && !r.IsSubmitted() {
		return eris.Errorf("record %s: accepted without a successful submission", r.ID)
	}
	if r.IsSubmitted() && !r.IsQualified() {
		return eris.Errorf("record %s: submitted without a qualifying classification", r.ID)
	}
	if r.Followup != nil && r.Acceptance == nil {
		return eris.Errorf("record %s: follow-up without acceptance", r.ID)
	}
	return nil
}

// Clone returns a deep copy of r so stage code can mutate freely.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Experience = append([]string(nil), r.Experience...)
	c.Education = append([]string(nil), r.Education...)
	if r.Classification != nil {
		cl := r.Classification.clone()
		c.Classification = &cl
	}
	if len(r.ClassificationHistory) > 0 {
		c.ClassificationHistory = make([]Classification, len(r.ClassificationHistory))
		for i, h := range r.ClassificationHistory {
			c.ClassificationHistory[i] = h.clone()
		}
	}
	if r.CampaignRef != nil {
		ref := *r.CampaignRef
		c.CampaignRef = &ref
	}
	if r.Acceptance != nil {
		a := *r.Acceptance
		c.Acceptance = &a
	}
	if r.Followup != nil {
		f := *r.Followup
		c.Followup = &f
	}
	return &c
}

func (c Classification) clone() Classification {
	out := c
	if c.Score != nil {
		s := *c.Score
		out.Score = &s
	}
	out.Strengths = append([]string(nil), c.Strengths...)
	out.Concerns = append([]string(nil), c.Concerns...)
	return out
}
