// Package record owns per-sender verification records and the dedup/skip
// policy that decides whether an observed code starts a new delivery.
package record

import "time"

// Status is the delivery state of a record.
type Status string

const (
	// StatusPending means a dispatch is queued or in flight.
	StatusPending Status = "PENDING"

	// StatusSuccess means the code was delivered; the sender is verified.
	StatusSuccess Status = "SUCCESS"

	// StatusFailure means the last dispatch failed terminally or is
	// awaiting retry.
	StatusFailure Status = "FAILURE"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailure:
		return true
	}
	return false
}

// Record is the single authoritative row for one sender.
type Record struct {
	// ID is assigned on creation and never changes.
	ID string `json:"id"`

	// Phone is the sender identifier and the natural key: at most one
	// record exists per phone.
	Phone string `json:"phone"`

	// Code is the last extracted verification string.
	Code string `json:"code"`

	Status Status `json:"status"`

	// UpdatedAt is the last mutation time, non-decreasing per record.
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcome describes what an Upsert call decided.
type Outcome string

const (
	// OutcomeCreated means a record was created for a new phone.
	OutcomeCreated Outcome = "created"

	// OutcomeUpdated means an existing unverified record took a new code.
	OutcomeUpdated Outcome = "updated"

	// OutcomeReopened means a verified record was reset to PENDING because
	// a different code arrived: a new login attempt.
	OutcomeReopened Outcome = "reopened"

	// OutcomeSkippedVerified means the sender is already verified with
	// this code; nothing was mutated.
	OutcomeSkippedVerified Outcome = "skipped_verified"

	// OutcomeSkippedDuplicate means the same code was already observed
	// while PENDING or FAILURE; nothing was mutated. Prevents dispatch
	// loops from repeated observation of one message.
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
)

// Dispatchable reports whether the outcome calls for a new delivery.
func (o Outcome) Dispatchable() bool {
	switch o {
	case OutcomeCreated, OutcomeUpdated, OutcomeReopened:
		return true
	}
	return false
}

// Upsert is the result of a Store.Upsert call.
type Upsert struct {
	Record  Record
	Outcome Outcome
}

// Filter narrows a List call. The zero value matches everything.
type Filter struct {
	Status Status
}
