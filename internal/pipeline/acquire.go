package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/identity"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/quota"
	"github.com/sells-group/leadflow/internal/store"
)

// Target is one item a Source hands to the Extractor.
type Target struct {
	ProfileURL string
	Name       string
	Title      string
	Company    string
	Location   string
	Source     string // "file", "notion", "search", ...
	Ref        string // source-side handle, e.g. a Notion page id
}

// RawFields is what an Extractor returns for a target.
type RawFields struct {
	ProfileURL string
	Name       string
	Title      string
	Company    string
	Location   string
	About      string
	Experience []string
	Education  []string
}

// Extractor fetches profile fields for a target.
type Extractor interface {
	Fetch(ctx context.Context, t Target) (*RawFields, error)
}

// Source yields targets in order. ok is false once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (t Target, ok bool, err error)
}

// Acknowledger is implemented by sources that track per-item outcomes.
// rec is nil when extraction failed.
type Acknowledger interface {
	Ack(ctx context.Context, t Target, rec *model.Record, cause error) error
}

// AcquireBatch pulls up to maxCount targets from src, extracts each and
// stores it as a new record. It stops early once the daily quota is spent,
// the source runs dry or ctx is cancelled. Extraction failures are counted
// and not retried. Targets whose identity is already stored are skipped
// without consuming quota. Store and source errors are returned.
func (p *Pipeline) AcquireBatch(ctx context.Context, src Source, maxCount int) (model.BatchResult, []model.Record, error) {
	var (
		res       model.BatchResult
		records   []model.Record
		attempted int
	)
	if p.quota == nil || p.extractor == nil {
		return res, nil, eris.Wrap(ErrNotConfigured, "acquire: quota and extractor are required")
	}
	log := zap.L().With(zap.String("stage", "acquire"))

	for maxCount <= 0 || attempted < maxCount {
		if err := ctx.Err(); err != nil {
			return res, records, err
		}

		ok, err := p.quota.CanAcquire(ctx)
		if err != nil {
			return res, records, err
		}
		if !ok {
			log.Info("acquire: daily quota reached, stopping")
			break
		}

		t, more, err := src.Next(ctx)
		if err != nil {
			return res, records, eris.Wrap(err, "acquire: next target")
		}
		if !more {
			break
		}

		key := identity.Normalize(t.ProfileURL)
		if key == "" {
			log.Warn("acquire: target has no profile url", zap.String("name", t.Name))
			res.Skipped++
			continue
		}

		existing, err := p.store.GetByIdentity(ctx, key)
		switch {
		case err == nil:
			log.Debug("acquire: already stored", zap.String("identity", key), zap.String("record_id", existing.ID))
			res.Skipped++
			p.ack(ctx, src, t, existing, nil)
			continue
		case !errors.Is(err, store.ErrNotFound):
			return res, records, eris.Wrap(err, "acquire: identity lookup")
		}

		rec, err := p.acquireOne(ctx, t, key)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateIdentity) {
				res.Skipped++
				continue
			}
			var se *storeError
			if errors.As(err, &se) {
				return res, records, se.err
			}
			log.Warn("acquire: extraction failed", zap.String("url", t.ProfileURL), zap.Error(err))
			res.Failed++
			p.ack(ctx, src, t, nil, err)
		} else {
			res.Succeeded++
			records = append(records, *rec)
			p.ack(ctx, src, t, rec, nil)
		}
		attempted++

		if err := p.quota.RecordAcquisition(ctx); err != nil {
			if errors.Is(err, quota.ErrExhausted) {
				log.Info("acquire: daily quota reached, stopping")
				break
			}
			return res, records, err
		}

		if maxCount > 0 && attempted >= maxCount {
			break
		}
		if err := p.quota.Pause(ctx); err != nil {
			return res, records, err
		}
	}

	log.Info("acquire: batch complete",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, records, nil
}

// storeError marks a failure that must abort the batch.
type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func (p *Pipeline) acquireOne(ctx context.Context, t Target, key string) (*model.Record, error) {
	raw, err := p.extractor.Fetch(ctx, t)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, eris.Errorf("acquire: extractor returned nothing for %s", t.ProfileURL)
	}

	rec := p.newRecord(t, raw, key)
	if err := p.store.Put(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateIdentity) {
			return nil, err
		}
		return nil, &storeError{err: eris.Wrap(err, "acquire: put record")}
	}
	return rec, nil
}

func (p *Pipeline) newRecord(t Target, raw *RawFields, key string) *model.Record {
	ext := raw.ProfileURL
	if ext == "" {
		ext = t.ProfileURL
	}
	return &model.Record{
		ID:          p.newID(),
		ExternalID:  ext,
		IdentityKey: key,
		Name:        firstNonEmpty(raw.Name, t.Name),
		Title:       firstNonEmpty(raw.Title, t.Title),
		Company:     firstNonEmpty(raw.Company, t.Company),
		Location:    firstNonEmpty(raw.Location, t.Location),
		About:       raw.About,
		Experience:  raw.Experience,
		Education:   raw.Education,
		Source:      t.Source,
		Stage:       model.StageNew,
		CreatedAt:   p.now().UTC(),
	}
}

func (p *Pipeline) ack(ctx context.Context, src Source, t Target, rec *model.Record, cause error) {
	a, ok := src.(Acknowledger)
	if !ok {
		return
	}
	if err := a.Ack(ctx, t, rec, cause); err != nil {
		zap.L().Warn("acquire: source ack failed", zap.String("url", t.ProfileURL), zap.Error(err))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
