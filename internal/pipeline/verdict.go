package pipeline

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/config"
)

var (
	// ErrNoVerdict means the classifier output held no JSON object.
	ErrNoVerdict = eris.New("verdict: no JSON object in classifier output")
	// ErrVerdictTooLong means a verdict field exceeded its length limit.
	ErrVerdictTooLong = eris.New("verdict: field exceeds length limit")
)

// Verdict is the structured answer parsed out of classifier text.
type Verdict struct {
	Decision  string
	Score     *float64
	Reasoning string
	Strengths []string
	Concerns  []string
	Approach  string
}

// VerdictSchema lists the accepted key names for each verdict field, in
// lookup order.
type VerdictSchema struct {
	Decision  []string
	Score     []string
	Reasoning []string
	Strengths []string
	Concerns  []string
	Approach  []string
}

// DefaultVerdictSchema returns the stock key names.
func DefaultVerdictSchema() VerdictSchema {
	return VerdictSchema{
		Decision:  []string{"decision", "tier", "classification"},
		Score:     []string{"score"},
		Reasoning: []string{"reasoning", "reason"},
		Strengths: []string{"strengths", "pros"},
		Concerns:  []string{"concerns", "cons"},
		Approach:  []string{"approach", "recommended_approach"},
	}
}

// SchemaFromConfig puts the configured decision field ahead of the defaults.
func SchemaFromConfig(cfg config.ClassifyConfig) VerdictSchema {
	s := DefaultVerdictSchema()
	f := strings.TrimSpace(cfg.DecisionField)
	if f == "" {
		return s
	}
	keys := []string{f}
	for _, k := range s.Decision {
		if k != f {
			keys = append(keys, k)
		}
	}
	s.Decision = keys
	return s
}

// Limits bounds verdict text. Zero disables a check.
type Limits struct {
	MaxProse       int
	MaxListItems   int
	MaxListItemLen int
}

// DefaultLimits returns 500 chars of prose and 5 list items of 100 chars.
func DefaultLimits() Limits {
	return Limits{MaxProse: 500, MaxListItems: 5, MaxListItemLen: 100}
}

// LimitsFromConfig fills unset limits with the defaults.
func LimitsFromConfig(cfg config.ClassifyConfig) Limits {
	l := DefaultLimits()
	if cfg.MaxProseLen > 0 {
		l.MaxProse = cfg.MaxProseLen
	}
	if cfg.MaxListItems > 0 {
		l.MaxListItems = cfg.MaxListItems
	}
	if cfg.MaxListItemLen > 0 {
		l.MaxListItemLen = cfg.MaxListItemLen
	}
	return l
}

// ExtractJSONObject returns the first balanced {...} block in text. Braces
// inside JSON string literals, including escaped quotes, are ignored.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end := matchBrace(text, start); end > 0 {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing text[start], or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseVerdict extracts and decodes the verdict object in text. A missing
// or non-string decision, a non-numeric score or a non-string list entry is
// a parse error.
func ParseVerdict(text string, schema VerdictSchema) (*Verdict, error) {
	obj, ok := ExtractJSONObject(text)
	if !ok {
		return nil, ErrNoVerdict
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, eris.Wrap(err, "verdict: decode")
	}

	v := &Verdict{}
	var err error

	decision, found, err := stringField(fields, schema.Decision)
	if err != nil {
		return nil, err
	}
	if !found || strings.TrimSpace(decision) == "" {
		return nil, eris.Errorf("verdict: missing decision (looked for %s)", strings.Join(schema.Decision, ", "))
	}
	v.Decision = strings.TrimSpace(decision)

	if v.Score, err = scoreField(fields, schema.Score); err != nil {
		return nil, err
	}
	if v.Reasoning, _, err = stringField(fields, schema.Reasoning); err != nil {
		return nil, err
	}
	if v.Approach, _, err = stringField(fields, schema.Approach); err != nil {
		return nil, err
	}
	if v.Strengths, err = listField(fields, schema.Strengths); err != nil {
		return nil, err
	}
	if v.Concerns, err = listField(fields, schema.Concerns); err != nil {
		return nil, err
	}
	return v, nil
}

// lookup returns the first non-null value among keys.
func lookup(fields map[string]any, keys []string) (string, any, bool) {
	for _, k := range keys {
		if val, ok := fields[k]; ok && val != nil {
			return k, val, true
		}
	}
	return "", nil, false
}

func stringField(fields map[string]any, keys []string) (string, bool, error) {
	k, val, ok := lookup(fields, keys)
	if !ok {
		return "", false, nil
	}
	s, isStr := val.(string)
	if !isStr {
		return "", true, eris.Errorf("verdict: %s must be a string, got %T", k, val)
	}
	return s, true, nil
}

func scoreField(fields map[string]any, keys []string) (*float64, error) {
	k, val, ok := lookup(fields, keys)
	if !ok {
		return nil, nil
	}
	var raw string
	switch t := val.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return nil, eris.Errorf("verdict: %s must be numeric, got %T", k, val)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, eris.Errorf("verdict: %s must be numeric, got %q", k, raw)
	}
	return &f, nil
}

func listField(fields map[string]any, keys []string) ([]string, error) {
	k, val, ok := lookup(fields, keys)
	if !ok {
		return nil, nil
	}
	items, isList := val.([]any)
	if !isList {
		return nil, eris.Errorf("verdict: %s must be a list, got %T", k, val)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, isStr := item.(string)
		if !isStr {
			return nil, eris.Errorf("verdict: %s[%d] must be a string, got %T", k, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// ValidateVerdict checks every text field against lim. Lengths are counted
// in runes.
func ValidateVerdict(v *Verdict, lim Limits) error {
	if err := checkProse("reasoning", v.Reasoning, lim.MaxProse); err != nil {
		return err
	}
	if err := checkProse("approach", v.Approach, lim.MaxProse); err != nil {
		return err
	}
	if err := checkList("strengths", v.Strengths, lim); err != nil {
		return err
	}
	return checkList("concerns", v.Concerns, lim)
}

func checkProse(name, s string, max int) error {
	if max > 0 && utf8.RuneCountInString(s) > max {
		return eris.Wrapf(ErrVerdictTooLong, "%s is %d chars, limit %d", name, utf8.RuneCountInString(s), max)
	}
	return nil
}

func checkList(name string, items []string, lim Limits) error {
	if lim.MaxListItems > 0 && len(items) > lim.MaxListItems {
		return eris.Wrapf(ErrVerdictTooLong, "%s has %d items, limit %d", name, len(items), lim.MaxListItems)
	}
	for i, s := range items {
		if lim.MaxListItemLen > 0 && utf8.RuneCountInString(s) > lim.MaxListItemLen {
			return eris.Wrapf(ErrVerdictTooLong, "%s[%d] is %d chars, limit %d", name, i, utf8.RuneCountInString(s), lim.MaxListItemLen)
		}
	}
	return nil
}

// Qualifies reports whether v's decision is in decisions (case-insensitive)
// and, when v carries a score, the score is at least minScore.
func (v *Verdict) Qualifies(decisions []string, minScore float64) bool {
	matched := false
	for _, d := range decisions {
		if strings.EqualFold(strings.TrimSpace(d), v.Decision) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	return v.Score == nil || *v.Score >= minScore
}
