package notion

import (
	"context"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Property names and status values of the lead queue database.
const (
	PropName       = "Name"
	PropProfileURL = "Profile URL"
	PropStatus     = "Status"
	PropRecordID   = "Record ID"
	PropNote       = "Note"
	PropAcquiredAt = "Acquired At"

	StatusQueued   = "Queued"
	StatusAcquired = "Acquired"
	StatusFailed   = "Failed"
)

// QueuedLead is one queue page awaiting acquisition.
type QueuedLead struct {
	PageID     string
	Name       string
	ProfileURL string
}

// QueryAll pages through a database query until HasMore is false.
func QueryAll(ctx context.Context, c Client, dbID string, base *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor
	for {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if base != nil {
			req.Filter = base.Filter
			req.Sorts = base.Sorts
			req.PageSize = base.PageSize
		}

		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

// QueuedLeads returns queue pages with Status = Queued, oldest first.
// Pages without a profile URL are dropped.
func QueuedLeads(ctx context.Context, c Client, dbID string) ([]QueuedLead, error) {
	pages, err := QueryAll(ctx, c, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropStatus,
			Status:   &notionapi.StatusFilterCondition{Equals: StatusQueued},
		},
		Sorts: []notionapi.SortObject{
			{Timestamp: notionapi.TimestampCreated, Direction: notionapi.SortOrderASC},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "notion: query queued leads")
	}

	leads := make([]QueuedLead, 0, len(pages))
	for _, p := range pages {
		lead := QueuedLead{
			PageID:     string(p.ID),
			Name:       titleText(p.Properties[PropName]),
			ProfileURL: urlValue(p.Properties[PropProfileURL]),
		}
		if lead.ProfileURL == "" {
			continue
		}
		leads = append(leads, lead)
	}
	return leads, nil
}

// MarkAcquired flips a queue page to Acquired and links the record.
func MarkAcquired(ctx context.Context, c Client, pageID, recordID string) error {
	now := notionapi.Date(time.Now())
	_, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			PropStatus:     notionapi.StatusProperty{Status: notionapi.Status{Name: StatusAcquired}},
			PropRecordID:   richText(recordID),
			PropAcquiredAt: notionapi.DateProperty{Date: &notionapi.DateObject{Start: &now}},
		},
	})
	return eris.Wrap(err, "notion: mark acquired")
}

// MarkFailed flips a queue page to Failed with a short note.
func MarkFailed(ctx context.Context, c Client, pageID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	_, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			PropStatus: notionapi.StatusProperty{Status: notionapi.Status{Name: StatusFailed}},
			PropNote:   richText(msg),
		},
	})
	return eris.Wrap(err, "notion: mark failed")
}

func titleText(p notionapi.Property) string {
	tp, ok := p.(*notionapi.TitleProperty)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, rt := range tp.Title {
		b.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(b.String())
}

func urlValue(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.URLProperty:
		return strings.TrimSpace(v.URL)
	case *notionapi.RichTextProperty:
		var b strings.Builder
		for _, rt := range v.RichText {
			b.WriteString(rt.PlainText)
		}
		return strings.TrimSpace(b.String())
	}
	return ""
}

func richText(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
		},
	}
}
