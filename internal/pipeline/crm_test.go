package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/pkg/salesforce"
)

func TestToCRMLead(t *testing.T) {
	rec := connectedLead("r1", li("ann"))
	rec.Classification.Reasoning = "Owns the budget"
	lead := ToCRMLead(rec, "LinkedIn Outreach")
	assert.Equal(t, salesforce.Lead{
		FirstName:   "Jane",
		LastName:    "Q Doe",
		Company:     "Acme",
		Title:       "VP Sales",
		LinkedInURL: li("ann"),
		LeadSource:  "LinkedIn Outreach",
		Description: "TIER_1: Owns the budget",
	}, lead)

	rec.Name = "Cher"
	rec.Classification = nil
	lead = ToCRMLead(rec, "")
	assert.Empty(t, lead.FirstName)
	assert.Equal(t, "Cher", lead.LastName)
	assert.Empty(t, lead.Description)
}

func TestSyncConnected(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seed(t, st, connectedLead("r1", li("ann")))
	seed(t, st, connectedLead("r2", li("bob")))
	seed(t, st, submittedLead("r3", li("cat")))
	synced := connectedLead("r4", li("dan"))
	synced.CRMID = "00Q-existing"
	seed(t, st, synced)

	sf := new(mockSalesforceClient)
	sf.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(nil)
	sf.On("InsertOne", mock.Anything, "Lead", mock.MatchedBy(func(f map[string]any) bool {
		return f[salesforce.LinkedInField] == li("ann")
	})).Return("00Q-ann", nil).Once()
	sf.On("InsertOne", mock.Anything, "Lead", mock.MatchedBy(func(f map[string]any) bool {
		return f[salesforce.LinkedInField] == li("bob")
	})).Return("", errors.New("FIELD_CUSTOM_VALIDATION_EXCEPTION")).Once()

	p := newTestPipeline(t, st, WithCRM(sf))
	res, err := p.SyncConnected(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{Succeeded: 1, Failed: 1}, res)

	r1, err := st.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "00Q-ann", r1.CRMID)
	r2, err := st.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Empty(t, r2.CRMID)
	sf.AssertExpectations(t)
}

func TestSyncConnected_NotConfigured(t *testing.T) {
	p := newTestPipeline(t, newTestStore(t))
	_, err := p.SyncConnected(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
