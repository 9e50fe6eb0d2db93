package quota

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnauthorized      = errors.New("invalid credential")
	ErrUnlockUnavailable = errors.New("unlock is not configured")
	ErrEmptyIdentity     = errors.New("identity is empty")
	ErrInvalidUnits      = errors.New("requested units must be positive")
	ErrReservationClosed = errors.New("reservation already committed or released")
)

// Record is the persisted quota state of one identity.
type Record struct {
	Identity    string
	PeriodStart time.Time
	Count       int
	Unlimited   bool
}

// Store is the key-value contract the gate needs.
type Store interface {
	Get(ctx context.Context, identity string) (Record, bool, error)
	Put(ctx context.Context, rec Record) error
}

// Updater is implemented by stores that can read-modify-write a record atomically
// on their own (transactions, WATCH/MULTI). fn reports whether rec must be written.
// When a store is an Updater the gate does not take its in-process lock.
type Updater interface {
	Update(ctx context.Context, identity string, fn func(rec *Record, found bool) (bool, error)) (Record, error)
}

// Admission is the answer to CheckAndReserve.
type Admission struct {
	Allowed     bool
	Count       int
	Limit       int
	Unlimited   bool
	Reservation *Reservation // nil on denial
}

// Status is a read-only view for the caller.
type Status struct {
	Count     int
	Limit     int
	Remaining int
	Unlimited bool
}

func (s Status) LimitReached() bool {
	return !s.Unlimited && s.Remaining <= 0
}

// Reservation holds units counted at admission until Commit or Release.
type Reservation struct {
	identity string
	units    int
	period   time.Time
	counted  bool
	closed   bool
}

func (r *Reservation) Identity() string { return r.identity }
func (r *Reservation) Units() int       { return r.units }
