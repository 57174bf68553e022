package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/store"
)

// ErrRecordBusy is returned when another worker or process holds the record.
var ErrRecordBusy = eris.New("pipeline: record is claimed by another worker")

// defaultClaimTTL covers the longest claimed chain: a classifier call with
// retries followed by one campaign submission.
const defaultClaimTTL = 10 * time.Minute

// claimer serializes work on a record: an in-process keyed mutex for
// goroutines sharing this Pipeline, then a store lease for other processes.
type claimer struct {
	store store.Store
	owner string
	ttl   time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lease is a held claim on one record. Writes made under it go through put,
// which refuses once the store lease has passed to someone else.
type lease struct {
	c  *claimer
	id string
	kl *keyLock
}

func newClaimer(st store.Store, owner string, ttl time.Duration) *claimer {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &claimer{store: st, owner: owner, ttl: ttl, locks: make(map[string]*keyLock)}
}

// acquire blocks on the local lock for id, then takes the store lease.
// The returned lease must always be released.
func (c *claimer) acquire(ctx context.Context, id string) (*lease, error) {
	kl := c.lock(id)

	ok, err := c.store.Claim(ctx, id, c.owner, c.ttl)
	if err != nil {
		c.unlock(id, kl)
		return nil, eris.Wrapf(err, "pipeline: claim %s", id)
	}
	if !ok {
		c.unlock(id, kl)
		return nil, eris.Wrapf(ErrRecordBusy, "record %s", id)
	}
	return &lease{c: c, id: id, kl: kl}, nil
}

// renew extends the store lease. It fails with store.ErrClaimLost when the
// lease expired and another owner took or released it.
func (l *lease) renew(ctx context.Context) error {
	ok, err := l.c.store.RenewClaim(ctx, l.id, l.c.owner, l.c.ttl)
	if err != nil {
		return eris.Wrapf(err, "pipeline: renew claim %s", l.id)
	}
	if !ok {
		return eris.Wrapf(store.ErrClaimLost, "pipeline: renew claim %s", l.id)
	}
	return nil
}

// put renews the lease and saves rec only while it is still held.
func (l *lease) put(ctx context.Context, rec *model.Record) error {
	if err := l.renew(ctx); err != nil {
		return err
	}
	return l.c.store.PutClaimed(ctx, rec, l.c.owner)
}

func (l *lease) release(ctx context.Context) {
	// Release even when ctx was cancelled mid-stage.
	if err := l.c.store.Release(context.WithoutCancel(ctx), l.id, l.c.owner); err != nil {
		zap.L().Warn("pipeline: release claim failed", zap.String("record_id", l.id), zap.Error(err))
	}
	l.c.unlock(l.id, l.kl)
}

func (c *claimer) lock(id string) *keyLock {
	c.mu.Lock()
	kl, ok := c.locks[id]
	if !ok {
		kl = &keyLock{}
		c.locks[id] = kl
	}
	kl.refs++
	c.mu.Unlock()

	kl.mu.Lock()
	return kl
}

func (c *claimer) unlock(id string, kl *keyLock) {
	kl.mu.Unlock()

	c.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(c.locks, id)
	}
	c.mu.Unlock()
}
