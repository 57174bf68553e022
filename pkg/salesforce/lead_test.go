package salesforce

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	if fn, ok := args.Get(0).(func(any)); ok {
		fn(out)
		return args.Error(1)
	}
	return args.Error(1)
}

func (m *MockClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	args := m.Called(ctx, sObjectName, record)
	return args.String(0), args.Error(1)
}

func (m *MockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	args := m.Called(ctx, sObjectName, id, fields)
	return args.Error(0)
}

func noRows(any) {}

func TestLeadFields_Placeholders(t *testing.T) {
	f := Lead{LinkedInURL: "https://x.com/in/a", Title: "CTO"}.Fields()
	assert.Equal(t, "[not provided]", f["LastName"])
	assert.Equal(t, "[not provided]", f["Company"])
	assert.Equal(t, "CTO", f["Title"])
	assert.NotContains(t, f, "FirstName")
}

func TestUpsertLead_CreatesWhenMissing(t *testing.T) {
	mc := new(MockClient)
	mc.On("Query", mock.Anything, mock.MatchedBy(func(q string) bool {
		return containsAll(q, "FROM Lead", `o\'brien`)
	}), mock.Anything).Return(noRows, nil)
	mc.On("InsertOne", mock.Anything, "Lead", mock.MatchedBy(func(m map[string]any) bool {
		return m["LastName"] == "Doe" && m[LinkedInField] == "https://x.com/in/o'brien"
	})).Return("00Qnew", nil)

	id, err := UpsertLead(context.Background(), mc, Lead{
		FirstName: "Jane", LastName: "Doe", Company: "O'Brien Ltd", LinkedInURL: "https://x.com/in/o'brien",
	})
	require.NoError(t, err)
	assert.Equal(t, "00Qnew", id)
	mc.AssertExpectations(t)
}

func TestUpsertLead_ReusesExisting(t *testing.T) {
	mc := new(MockClient)
	mc.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(func(out any) {
		*(out.(*[]Lead)) = []Lead{{ID: "00Qold"}}
	}, nil)

	id, err := UpsertLead(context.Background(), mc, Lead{LinkedInURL: "https://x.com/in/a"})
	require.NoError(t, err)
	assert.Equal(t, "00Qold", id)
	mc.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpsertLead_RequiresURL(t *testing.T) {
	_, err := UpsertLead(context.Background(), new(MockClient), Lead{LastName: "Doe"})
	require.Error(t, err)
}

func TestUpsertLead_QueryError(t *testing.T) {
	mc := new(MockClient)
	mc.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, assert.AnError)

	_, err := UpsertLead(context.Background(), mc, Lead{LinkedInURL: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: find lead")
}

func TestUpdateLeadStatus(t *testing.T) {
	mc := new(MockClient)
	mc.On("UpdateOne", mock.Anything, "Lead", "00Q1", map[string]any{"Status": "Working"}).Return(nil)
	require.NoError(t, UpdateLeadStatus(context.Background(), mc, "00Q1", "Working"))
	require.Error(t, UpdateLeadStatus(context.Background(), mc, "", "Working"))
}

func TestEscapeSoql(t *testing.T) {
	assert.Equal(t, `O\'Brien`, escapeSoql("O'Brien"))
	assert.Equal(t, `a\\b`, escapeSoql(`a\b`))
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
