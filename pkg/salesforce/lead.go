package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// LinkedInField is the custom Lead field holding the profile URL.
const LinkedInField = "LinkedIn_URL__c"

// Lead is the CRM projection of a connected lead.
type Lead struct {
	ID          string `json:"Id" salesforce:"Id"`
	FirstName   string `json:"FirstName" salesforce:"FirstName"`
	LastName    string `json:"LastName" salesforce:"LastName"`
	Company     string `json:"Company" salesforce:"Company"`
	Title       string `json:"Title" salesforce:"Title"`
	LinkedInURL string `json:"LinkedIn_URL__c" salesforce:"LinkedIn_URL__c"`
	LeadSource  string `json:"LeadSource" salesforce:"LeadSource"`
	Description string `json:"Description" salesforce:"Description"`
}

// Fields renders l as an insert payload. Salesforce requires LastName and
// Company, so blanks get placeholders.
func (l Lead) Fields() map[string]any {
	last := l.LastName
	if last == "" {
		last = "[not provided]"
	}
	company := l.Company
	if company == "" {
		company = "[not provided]"
	}
	f := map[string]any{
		"LastName":    last,
		"Company":     company,
		LinkedInField: l.LinkedInURL,
	}
	for k, v := range map[string]string{
		"FirstName":   l.FirstName,
		"Title":       l.Title,
		"LeadSource":  l.LeadSource,
		"Description": l.Description,
	} {
		if v != "" {
			f[k] = v
		}
	}
	return f
}

// FindLeadByLinkedIn returns the Lead whose profile URL matches, or nil.
func FindLeadByLinkedIn(ctx context.Context, c Client, profileURL string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT Id, FirstName, LastName, Company, Title, %s, LeadSource FROM Lead WHERE %s = '%s' LIMIT 1",
		LinkedInField, LinkedInField, escapeSoql(profileURL),
	)
	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrapf(err, "sf: find lead %s", profileURL)
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// UpsertLead returns the ID of an existing Lead with the same profile URL,
// or creates one.
func UpsertLead(ctx context.Context, c Client, lead Lead) (string, error) {
	if strings.TrimSpace(lead.LinkedInURL) == "" {
		return "", eris.New("sf: lead profile url is required")
	}
	existing, err := FindLeadByLinkedIn(ctx, c, lead.LinkedInURL)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}
	id, err := c.InsertOne(ctx, "Lead", lead.Fields())
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

// UpdateLeadStatus sets Status on an existing Lead.
func UpdateLeadStatus(ctx context.Context, c Client, id, status string) error {
	if id == "" {
		return eris.New("sf: lead id is required")
	}
	return c.UpdateOne(ctx, "Lead", id, map[string]any{"Status": status})
}

func escapeSoql(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
