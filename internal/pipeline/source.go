package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/fetcher"
	"github.com/sells-group/leadflow/internal/identity"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/pkg/jina"
	"github.com/sells-group/leadflow/pkg/notion"
)

// SliceSource yields a fixed list of targets in order.
type SliceSource struct {
	mu      sync.Mutex
	targets []Target
	pos     int
}

// NewSliceSource returns a source over targets.
func NewSliceSource(targets ...Target) *SliceSource {
	return &SliceSource{targets: targets}
}

// Next implements Source.
func (s *SliceSource) Next(_ context.Context) (Target, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.targets) {
		return Target{}, false, nil
	}
	t := s.targets[s.pos]
	s.pos++
	return t, true, nil
}

// FileSource reads targets from a CSV or XLSX lead sheet on first use.
type FileSource struct {
	path  string
	once  sync.Once
	err   error
	items *SliceSource
}

// NewFileSource returns a source over the lead sheet at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Next implements Source.
func (s *FileSource) Next(ctx context.Context) (Target, bool, error) {
	s.once.Do(func() {
		rows, err := fetcher.ReadLeadsFile(ctx, s.path)
		if err != nil {
			s.err = err
			return
		}
		targets := make([]Target, 0, len(rows))
		for _, r := range rows {
			targets = append(targets, Target{
				ProfileURL: r.ProfileURL,
				Name:       r.Name,
				Title:      r.Title,
				Company:    r.Company,
				Location:   r.Location,
				Source:     "file",
			})
		}
		zap.L().Info("acquire: loaded lead sheet", zap.String("path", s.path), zap.Int("rows", len(targets)))
		s.items = NewSliceSource(targets...)
	})
	if s.err != nil {
		return Target{}, false, s.err
	}
	return s.items.Next(ctx)
}

// NotionSource yields queued lead pages from a Notion database and marks
// each page with its outcome.
type NotionSource struct {
	client notion.Client
	dbID   string

	once  sync.Once
	err   error
	items *SliceSource
}

// NewNotionSource returns a source over the queue in database dbID.
func NewNotionSource(client notion.Client, dbID string) *NotionSource {
	return &NotionSource{client: client, dbID: dbID}
}

// Next implements Source.
func (s *NotionSource) Next(ctx context.Context) (Target, bool, error) {
	s.once.Do(func() {
		queued, err := notion.QueuedLeads(ctx, s.client, s.dbID)
		if err != nil {
			s.err = eris.Wrap(err, "notion source: load queue")
			return
		}
		targets := make([]Target, 0, len(queued))
		for _, q := range queued {
			targets = append(targets, Target{
				ProfileURL: q.ProfileURL,
				Name:       q.Name,
				Source:     "notion",
				Ref:        q.PageID,
			})
		}
		s.items = NewSliceSource(targets...)
	})
	if s.err != nil {
		return Target{}, false, s.err
	}
	return s.items.Next(ctx)
}

// Ack marks the page Acquired with the record id, or Failed with the cause.
func (s *NotionSource) Ack(ctx context.Context, t Target, rec *model.Record, cause error) error {
	if t.Ref == "" {
		return nil
	}
	if rec != nil {
		return notion.MarkAcquired(ctx, s.client, t.Ref, rec.ID)
	}
	return notion.MarkFailed(ctx, s.client, t.Ref, cause)
}

// SearchSource runs web searches restricted to a site and yields the
// profile URLs found, deduplicated by identity.
type SearchSource struct {
	client  jina.Client
	site    string
	queries []string
	match   string

	once  sync.Once
	err   error
	items *SliceSource
}

// NewSearchSource returns a source over the results of queries on site.
// Only result URLs containing pathMatch (e.g. "/in/") are kept.
func NewSearchSource(client jina.Client, site, pathMatch string, queries ...string) *SearchSource {
	return &SearchSource{client: client, site: site, match: pathMatch, queries: queries}
}

// Next implements Source.
func (s *SearchSource) Next(ctx context.Context) (Target, bool, error) {
	s.once.Do(func() {
		seen := make(map[string]bool)
		var targets []Target
		for _, q := range s.queries {
			resp, err := s.client.Search(ctx, q, jina.WithSiteFilter(s.site))
			if err != nil {
				s.err = eris.Wrapf(err, "search source: query %q", q)
				return
			}
			for _, r := range resp.Data {
				if s.match != "" && !strings.Contains(r.URL, s.match) {
					continue
				}
				key := identity.Normalize(r.URL)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				name, title, company := splitResultTitle(r.Title)
				targets = append(targets, Target{
					ProfileURL: r.URL,
					Name:       name,
					Title:      title,
					Company:    company,
					Source:     "search",
				})
			}
		}
		zap.L().Info("acquire: search complete", zap.Int("queries", len(s.queries)), zap.Int("profiles", len(targets)))
		s.items = NewSliceSource(targets...)
	})
	if s.err != nil {
		return Target{}, false, s.err
	}
	return s.items.Next(ctx)
}

// splitResultTitle parses "Name - Title - Company | Site" search titles.
func splitResultTitle(title string) (name, role, company string) {
	if i := strings.LastIndex(title, " | "); i >= 0 {
		title = title[:i]
	}
	parts := strings.Split(title, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 0:
		return "", "", ""
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], strings.Join(parts[1:len(parts)-1], " - "), parts[len(parts)-1]
	}
}
