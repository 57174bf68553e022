// Package campaign provides a client for the outreach campaign service
// (list enrolment and campaign lead listing).
package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadflow/internal/resilience"
)

const (
	addLeadsPath     = "/api/public/list/AddLeadsToListV2"
	campaignLeadPath = "/api/public/campaign/GetLeadsFromCampaign"
)

// Client defines the campaign service operations.
type Client interface {
	// AddLead enrols a single lead in a list. It is called at most once per
	// record, so it never retries.
	AddLead(ctx context.Context, lead Lead, listID string) (*AddLeadResponse, error)
	// ListCampaignLeads returns one page of leads enrolled in a campaign.
	ListCampaignLeads(ctx context.Context, campaignID string, offset, limit int) (*LeadPage, error)
}

// Lead is the campaign service's lead schema.
type Lead struct {
	FirstName        string        `json:"firstName"`
	LastName         string        `json:"lastName"`
	ProfileURL       string        `json:"profileUrl"`
	Location         string        `json:"location,omitempty"`
	CompanyName      string        `json:"companyName,omitempty"`
	Position         string        `json:"position,omitempty"`
	Summary          string        `json:"summary,omitempty"`
	About            string        `json:"about,omitempty"`
	EmailAddress     string        `json:"emailAddress"`
	CustomUserFields []CustomField `json:"customUserFields,omitempty"`
}

// CustomField is a free-form name/value pair attached to a lead.
type CustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AddLeadResponse is the parsed response from AddLead.
type AddLeadResponse struct {
	ID  string          `json:"id"`
	Raw json.RawMessage `json:"-"`
}

// LeadPage is one page of campaign leads. Items are kept raw because the
// service has shipped several payload shapes.
type LeadPage struct {
	Items      []json.RawMessage `json:"items"`
	TotalCount int               `json:"totalCount"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("campaign: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the campaign client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the 30s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit sets the maximum requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetryConfig overrides the retry policy used for page listing.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a campaign service client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("campaign", "list_leads")

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.heyreach.io",
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(5, 5),
		retry:   retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type addLeadsRequest struct {
	ListID any    `json:"listId"`
	Leads  []Lead `json:"leads"`
}

func (c *httpClient) AddLead(ctx context.Context, lead Lead, listID string) (*AddLeadResponse, error) {
	body, err := c.post(ctx, addLeadsPath, addLeadsRequest{ListID: listIDValue(listID), Leads: []Lead{lead}})
	if err != nil {
		return nil, eris.Wrap(err, "campaign: add lead")
	}

	resp := &AddLeadResponse{Raw: body, ID: responseID(body)}
	return resp, nil
}

type listLeadsRequest struct {
	CampaignID any `json:"campaignId"`
	Offset     int `json:"offset"`
	Limit      int `json:"limit"`
}

func (c *httpClient) ListCampaignLeads(ctx context.Context, campaignID string, offset, limit int) (*LeadPage, error) {
	req := listLeadsRequest{CampaignID: listIDValue(campaignID), Offset: offset, Limit: limit}

	page, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*LeadPage, error) {
		body, err := c.post(ctx, campaignLeadPath, req)
		if err != nil {
			return nil, err
		}
		var p LeadPage
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, eris.Wrap(err, "campaign: unmarshal lead page")
		}
		return &p, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "campaign: list leads (campaign=%s offset=%d)", campaignID, offset)
	}
	return page, nil
}

func (c *httpClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "campaign: rate limit wait")
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "campaign: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "campaign: create request")
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "campaign: request failed"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "campaign: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}
	return body, nil
}

// listIDValue sends numeric ids as JSON numbers, which the service expects.
func listIDValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// responseIDPaths are the known response shapes for the created lead id,
// checked in order.
var responseIDPaths = []string{"id", "leadId", "data.id"}

// responseID resolves the created lead id. Only string and numeric values
// count.
func responseID(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, p := range responseIDPaths {
		r := gjson.GetBytes(body, p)
		if (r.Type == gjson.String || r.Type == gjson.Number) && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
