package record

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for the given key.
var ErrNotFound = errors.New("record: not found")

// Store is the contract for the per-sender record collection.
//
// Implementations must evaluate the dedup/skip policy and apply any
// resulting mutation as one atomic unit per phone, so two concurrent
// observers can never both decide "new record" for the same sender.
type Store interface {
	// Upsert applies the dedup/skip policy for (phone, code) and mutates
	// the record when the policy allows. The returned Upsert carries the
	// current record and the decision taken.
	Upsert(ctx context.Context, phone, code string) (Upsert, error)

	// GetByPhone returns the record for a sender, or ErrNotFound.
	GetByPhone(ctx context.Context, phone string) (*Record, error)

	// GetByID returns the record with the given id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Record, error)

	// UpdateStatus sets the status of an existing record and refreshes
	// its timestamp.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// List returns records matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]Record, error)

	// Delete removes a record. Administrative cleanup only; the pipeline
	// never deletes.
	Delete(ctx context.Context, id string) error
}

// decide evaluates the dedup/skip policy against the existing record
// (nil when the phone has never been seen) and the newly observed code.
//
//  1. Verified sender, same code: skip. A verified sender is never
//     re-dispatched for a code it already confirmed.
//     Verified sender, different code: reopen to PENDING with the new code.
//  2. Unverified sender, same code: skip; the message was already handled.
//  3. Otherwise: take the new code and reset to PENDING.
func decide(existing *Record, code string) Outcome {
	if existing == nil {
		return OutcomeCreated
	}
	if existing.Code == code {
		if existing.Status == StatusSuccess {
			return OutcomeSkippedVerified
		}
		return OutcomeSkippedDuplicate
	}
	if existing.Status == StatusSuccess {
		return OutcomeReopened
	}
	return OutcomeUpdated
}
