package pipeline

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/pkg/anthropic"
	"github.com/sells-group/leadflow/pkg/campaign"
	"github.com/sells-group/leadflow/pkg/jina"
	"github.com/sells-group/leadflow/pkg/perplexity"
)

// --- Campaign Mock ---

type mockCampaign struct {
	mock.Mock
}

func (m *mockCampaign) AddLead(ctx context.Context, lead campaign.Lead, listID string) (*campaign.AddLeadResponse, error) {
	args := m.Called(ctx, lead, listID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*campaign.AddLeadResponse), args.Error(1)
}

func (m *mockCampaign) ListCampaignLeads(ctx context.Context, campaignID string, offset, limit int) (*campaign.LeadPage, error) {
	args := m.Called(ctx, campaignID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*campaign.LeadPage), args.Error(1)
}

// --- Classifier Mock ---

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, rec *model.Record, criteria string) (string, error) {
	args := m.Called(ctx, rec.ID, criteria)
	return args.String(0), args.Error(1)
}

type mockBatchClassifier struct {
	mockClassifier
}

func (m *mockBatchClassifier) ClassifyAll(ctx context.Context, recs []*model.Record, criteria string) (map[string]BatchVerdict, error) {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	args := m.Called(ctx, ids, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]BatchVerdict), args.Error(1)
}

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Fetch(ctx context.Context, t Target) (*RawFields, error) {
	args := m.Called(ctx, t.ProfileURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RawFields), args.Error(1)
}

// --- Draft Generator Mock ---

type mockDrafter struct {
	mock.Mock
}

func (m *mockDrafter) Draft(ctx context.Context, rec *model.Record) (string, error) {
	args := m.Called(ctx, rec.ID)
	return args.String(0), args.Error(1)
}

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func (m *mockAnthropicClient) CreateBatch(ctx context.Context, items []anthropic.BatchRequestItem) (string, error) {
	args := m.Called(ctx, items)
	return args.String(0), args.Error(1)
}

func (m *mockAnthropicClient) BatchStatus(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *mockAnthropicClient) BatchResults(ctx context.Context, id string) (anthropic.BatchResultIterator, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(anthropic.BatchResultIterator), args.Error(1)
}

// --- Jina Mock ---

type mockJinaClient struct {
	mock.Mock
}

func (m *mockJinaClient) Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.ReadResponse), args.Error(1)
}

func (m *mockJinaClient) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.SearchResponse), args.Error(1)
}

// --- Perplexity Mock ---

type mockPerplexityClient struct {
	mock.Mock
}

func (m *mockPerplexityClient) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*perplexity.ChatCompletionResponse), args.Error(1)
}

// --- Notion Mock ---

type mockNotionClient struct {
	mock.Mock
}

func (m *mockNotionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotionClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

// --- Salesforce Mock ---

type mockSalesforceClient struct {
	mock.Mock
}

func (m *mockSalesforceClient) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	return args.Error(0)
}

func (m *mockSalesforceClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	args := m.Called(ctx, sObjectName, record)
	return args.String(0), args.Error(1)
}

func (m *mockSalesforceClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	args := m.Called(ctx, sObjectName, id, fields)
	return args.Error(0)
}
