package quota

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDailyLimit is the number of free units per identity and day.
const DefaultDailyLimit = 3

type Config struct {
	DailyLimit int
	// Location defines the calendar day that makes up one accounting period.
	Location *time.Location
	// Secrets are the credentials accepted by Unlock.
	Secrets []string
}

// Gate admits or denies conversions against a per-identity daily counter.
type Gate struct {
	store   Store
	limit   int
	loc     *time.Location
	secrets [][sha256.Size]byte
	now     func() time.Time
	locks   keyedMutex
	log     *zap.Logger
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.log = l }
}

func NewGate(store Store, cfg Config, opts ...Option) *Gate {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	g := &Gate{
		store: store,
		limit: cfg.DailyLimit,
		loc:   loc,
		now:   time.Now,
		log:   zap.NewNop(),
		locks: keyedMutex{locks: make(map[string]*refLock)},
	}
	for _, s := range cfg.Secrets {
		g.secrets = append(g.secrets, sha256.Sum256([]byte(s)))
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gate) Limit() int { return g.limit }

// PeriodStart is local midnight of the day containing t.
func (g *Gate) PeriodStart(t time.Time) time.Time {
	l := t.In(g.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, g.loc)
}

// CheckAndReserve admits the request when the identity is unlimited or when
// count+units fits the daily limit after rollover. Admitted units are added to
// the count right away, so concurrent callers cannot share the last unit.
// A denial leaves the counter untouched.
func (g *Gate) CheckAndReserve(ctx context.Context, identity string, units int) (Admission, error) {
	if identity == "" {
		return Admission{}, ErrEmptyIdentity
	}
	if units < 1 {
		return Admission{}, ErrInvalidUnits
	}

	var adm Admission
	rec, err := g.update(ctx, identity, func(rec *Record) (bool, error) {
		adm = Admission{Count: rec.Count, Limit: g.limit, Unlimited: rec.Unlimited}

		if rec.Unlimited {
			adm.Allowed = true
			adm.Reservation = &Reservation{identity: identity, units: units, period: rec.PeriodStart}
			return false, nil
		}
		if rec.Count+units > g.limit {
			return false, nil
		}

		rec.Count += units
		adm.Allowed = true
		adm.Count = rec.Count
		adm.Reservation = &Reservation{identity: identity, units: units, period: rec.PeriodStart, counted: true}
		return true, nil
	})
	if err != nil {
		return Admission{}, err
	}

	g.log.Debug("quota check",
		zap.String("identity", identity),
		zap.Int("units", units),
		zap.Bool("allowed", adm.Allowed),
		zap.Int("count", rec.Count),
	)
	return adm, nil
}

// Commit keeps `units` of the reservation and gives the rest back.
// It is a no-op for unlimited identities.
func (g *Gate) Commit(ctx context.Context, res *Reservation, units int) error {
	if res == nil {
		return nil
	}
	if res.closed {
		return ErrReservationClosed
	}
	units = min(max(units, 0), res.units)
	return g.refund(ctx, res, res.units-units)
}

// Release gives the whole reservation back, e.g. after a failed or aborted job.
func (g *Gate) Release(ctx context.Context, res *Reservation) error {
	if res == nil || res.closed {
		return nil
	}
	return g.refund(ctx, res, res.units)
}

func (g *Gate) refund(ctx context.Context, res *Reservation, units int) error {
	res.closed = true
	if !res.counted || units == 0 {
		return nil
	}

	_, err := g.update(ctx, res.identity, func(rec *Record) (bool, error) {
		// новый период уже начался: возвращать нечего
		if !rec.PeriodStart.Equal(res.period) {
			return false, nil
		}
		rec.Count = max(rec.Count-units, 0)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("refund %d units for %s: %w", units, res.identity, err)
	}
	return nil
}

// Unlock lifts the limit for identity when credential matches one of the configured secrets.
// The flag survives period rollover.
func (g *Gate) Unlock(ctx context.Context, identity, credential string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if len(g.secrets) == 0 {
		return ErrUnlockUnavailable
	}
	if !g.matches(credential) {
		g.log.Info("unlock rejected", zap.String("identity", identity))
		return ErrUnauthorized
	}

	_, err := g.update(ctx, identity, func(rec *Record) (bool, error) {
		if rec.Unlimited {
			return false, nil
		}
		rec.Unlimited = true
		return true, nil
	})
	if err != nil {
		return err
	}
	g.log.Info("identity unlocked", zap.String("identity", identity))
	return nil
}

// matches compares against every secret so timing does not depend on which one matched.
func (g *Gate) matches(credential string) bool {
	sum := sha256.Sum256([]byte(credential))
	ok := 0
	for _, s := range g.secrets {
		ok |= subtle.ConstantTimeCompare(sum[:], s[:])
	}
	return ok == 1
}

// Status reports the counter without changing it.
func (g *Gate) Status(ctx context.Context, identity string) (Status, error) {
	if identity == "" {
		return Status{}, ErrEmptyIdentity
	}
	rec, found, err := g.store.Get(ctx, identity)
	if err != nil {
		return Status{}, err
	}
	if !found {
		rec = Record{Identity: identity}
	}
	g.rollover(&rec, g.now())

	return Status{
		Count:     rec.Count,
		Limit:     g.limit,
		Remaining: max(g.limit-rec.Count, 0),
		Unlimited: rec.Unlimited,
	}, nil
}

// rollover resets the counter when now is past the record's period. Unlimited is kept.
func (g *Gate) rollover(rec *Record, now time.Time) bool {
	start := g.PeriodStart(now)
	if !rec.PeriodStart.IsZero() && !rec.PeriodStart.Before(start) {
		return false
	}
	rec.PeriodStart = start
	rec.Count = 0
	return true
}

// update runs fn on the current record with rollover applied, atomically per identity.
func (g *Gate) update(ctx context.Context, identity string, fn func(rec *Record) (bool, error)) (Record, error) {
	now := g.now()
	apply := func(rec *Record, found bool) (bool, error) {
		if !found {
			*rec = Record{Identity: identity}
		}
		rolled := g.rollover(rec, now)
		changed, err := fn(rec)
		if err != nil {
			return false, err
		}
		return changed || rolled || !found, nil
	}

	if u, ok := g.store.(Updater); ok {
		return u.Update(ctx, identity, apply)
	}

	unlock := g.locks.Lock(identity)
	defer unlock()

	rec, found, err := g.store.Get(ctx, identity)
	if err != nil {
		return Record{}, fmt.Errorf("load quota for %s: %w", identity, err)
	}
	changed, err := apply(&rec, found)
	if err != nil {
		return Record{}, err
	}
	if changed {
		if err := g.store.Put(ctx, rec); err != nil {
			return Record{}, fmt.Errorf("save quota for %s: %w", identity, err)
		}
	}
	return rec, nil
}

// keyedMutex is a lock per identity. Entries are dropped once nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
