package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/pkg/anthropic"
	"github.com/sells-group/leadflow/pkg/jina"
	"github.com/sells-group/leadflow/pkg/perplexity"
)

const profileLookupPrompt = `Find the public professional profile at %s (%s).
Return everything available as plain text: full name, current title, current company,
location, about/summary, work experience (title, company, dates) and education.`

const profileExtractPrompt = `Extract the person's profile from the research data below.
Return one JSON object with these fields:
- name: string
- title: string (current headline or position)
- company: string (current employer)
- location: string
- about: string
- experience: array of strings, one per role, "Title at Company (dates)"
- education: array of strings, one per school

Use an empty string or empty array when a field cannot be determined.

Research data:
%s`

// maxResearchChars caps the page text sent for extraction.
const maxResearchChars = 24000

// ProfileExtractor reads a profile page, falls back to a Perplexity lookup
// when the page is blocked or behind a login wall, and extracts fields with
// a Haiku call.
type ProfileExtractor struct {
	jina       jina.Client
	perplexity perplexity.Client
	ai         anthropic.Client
	model      string
}

// NewProfileExtractor wires the extractor. pplx may be nil to disable the fallback.
func NewProfileExtractor(j jina.Client, pplx perplexity.Client, ai anthropic.Client, model string) *ProfileExtractor {
	return &ProfileExtractor{jina: j, perplexity: pplx, ai: ai, model: model}
}

// Fetch implements Extractor.
func (e *ProfileExtractor) Fetch(ctx context.Context, t Target) (*RawFields, error) {
	log := zap.L().With(zap.String("url", t.ProfileURL))

	var research string
	if e.jina != nil {
		resp, err := e.jina.Read(ctx, t.ProfileURL)
		switch {
		case err != nil:
			log.Debug("extract: reader failed, trying fallback", zap.Error(err))
		case isBlockedPage(resp):
			log.Debug("extract: reader hit a block or login wall, trying fallback")
		default:
			research = resp.Data.Content
		}
	}

	if research == "" && e.perplexity != nil {
		temp := 0.2
		resp, err := e.perplexity.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Messages: []perplexity.Message{
				{Role: "user", Content: fmt.Sprintf(profileLookupPrompt, t.ProfileURL, t.Name)},
			},
			Temperature: &temp,
		})
		if err != nil {
			return nil, eris.Wrap(err, "extract: perplexity lookup")
		}
		research = resp.Text()
	}

	if strings.TrimSpace(research) == "" {
		return nil, eris.Errorf("extract: no profile content for %s", t.ProfileURL)
	}
	research = truncateRunes(research, maxResearchChars)

	aiResp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(profileExtractPrompt, research)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: haiku extraction")
	}
	aiResp.Usage.LogUsage(e.model, "extract", false)

	raw, err := parseRawFields(aiResp.Text())
	if err != nil {
		return nil, err
	}
	raw.ProfileURL = t.ProfileURL
	if raw.Name == "" {
		raw.Name = t.Name
	}
	if raw.Name == "" {
		return nil, eris.Errorf("extract: no name found for %s", t.ProfileURL)
	}
	return raw, nil
}

// rawFieldKeys maps each RawFields field to the keys models tend to use for it.
var rawFieldKeys = struct {
	name, title, company, location, about, experience, education []string
}{
	name:       []string{"name", "full_name", "fullName"},
	title:      []string{"title", "headline", "position"},
	company:    []string{"company", "current_company", "companyName"},
	location:   []string{"location", "geo", "city"},
	about:      []string{"about", "summary", "bio"},
	experience: []string{"experience", "positions", "work_history"},
	education:  []string{"education", "schools"},
}

func parseRawFields(text string) (*RawFields, error) {
	obj, ok := ExtractJSONObject(text)
	if !ok {
		return nil, eris.New("extract: no JSON object in extraction output")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return nil, eris.Wrap(err, "extract: decode extraction json")
	}
	return &RawFields{
		Name:       resolveString(m, rawFieldKeys.name),
		Title:      resolveString(m, rawFieldKeys.title),
		Company:    resolveString(m, rawFieldKeys.company),
		Location:   resolveString(m, rawFieldKeys.location),
		About:      resolveString(m, rawFieldKeys.about),
		Experience: resolveList(m, rawFieldKeys.experience),
		Education:  resolveList(m, rawFieldKeys.education),
	}, nil
}

func resolveString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// entryKeys orders the parts of an object-shaped list entry.
var entryKeys = []string{"title", "role", "company", "school", "degree", "field", "dates", "duration"}

func resolveList(m map[string]any, keys []string) []string {
	for _, k := range keys {
		items, ok := m[k].([]any)
		if !ok || len(items) == 0 {
			continue
		}
		var out []string
		for _, item := range items {
			switch v := item.(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				var parts []string
				for _, ek := range entryKeys {
					if s, ok := v[ek].(string); ok && strings.TrimSpace(s) != "" {
						parts = append(parts, strings.TrimSpace(s))
					}
				}
				if len(parts) > 0 {
					out = append(out, strings.Join(parts, ", "))
				}
			}
		}
		return out
	}
	return nil
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
}

var loginWallSignatures = []string{
	"sign in",
	"join now",
	"login_required",
	"please log in",
	"sign up to view",
}

// isBlockedPage reports whether a reader response is empty, a bot
// challenge or a login wall rather than profile content.
func isBlockedPage(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}
	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)
	if strings.Contains(lower, "authwall") {
		return true
	}
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}
	for _, sig := range loginWallSignatures {
		if strings.Contains(lower, sig) && len(content) < 3000 {
			return true
		}
	}
	return false
}
