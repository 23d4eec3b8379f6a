package record

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_UpsertCreates(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	up, err := s.Upsert(ctx, "+15550001", "482910")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, up.Outcome)
	assert.NotEmpty(t, up.Record.ID)
	assert.Equal(t, "+15550001", up.Record.Phone)
	assert.Equal(t, "482910", up.Record.Code)
	assert.Equal(t, StatusPending, up.Record.Status)
	assert.False(t, up.Record.UpdatedAt.IsZero())
}

func TestMemStore_DedupPolicy(t *testing.T) {
	tests := []struct {
		name        string
		status      Status // status of the existing record before the second upsert
		secondCode  string
		wantOutcome Outcome
		wantCode    string // code on the record after the second upsert
		wantStatus  Status
	}{
		{
			name:        "same code while pending is skipped",
			status:      StatusPending,
			secondCode:  "111111",
			wantOutcome: OutcomeSkippedDuplicate,
			wantCode:    "111111",
			wantStatus:  StatusPending,
		},
		{
			name:        "same code while failed is skipped",
			status:      StatusFailure,
			secondCode:  "111111",
			wantOutcome: OutcomeSkippedDuplicate,
			wantCode:    "111111",
			wantStatus:  StatusFailure,
		},
		{
			name:        "same code after success is skipped",
			status:      StatusSuccess,
			secondCode:  "111111",
			wantOutcome: OutcomeSkippedVerified,
			wantCode:    "111111",
			wantStatus:  StatusSuccess,
		},
		{
			name:        "different code after success reopens",
			status:      StatusSuccess,
			secondCode:  "222222",
			wantOutcome: OutcomeReopened,
			wantCode:    "222222",
			wantStatus:  StatusPending,
		},
		{
			name:        "different code while pending updates",
			status:      StatusPending,
			secondCode:  "222222",
			wantOutcome: OutcomeUpdated,
			wantCode:    "222222",
			wantStatus:  StatusPending,
		},
		{
			name:        "different code after failure updates",
			status:      StatusFailure,
			secondCode:  "222222",
			wantOutcome: OutcomeUpdated,
			wantCode:    "222222",
			wantStatus:  StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewMemStore()

			first, err := s.Upsert(ctx, "+15550001", "111111")
			require.NoError(t, err)
			require.NoError(t, s.UpdateStatus(ctx, first.Record.ID, tt.status))

			up, err := s.Upsert(ctx, "+15550001", tt.secondCode)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, up.Outcome)

			rec, err := s.GetByPhone(ctx, "+15550001")
			require.NoError(t, err)
			assert.Equal(t, first.Record.ID, rec.ID, "id must be stable across upserts")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, rec.Status)
		})
	}
}

// One record per phone, no matter how upserts interleave.
func TestMemStore_SingleRecordPerPhone(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	for i := 0; i < 20; i++ {
		_, err := s.Upsert(ctx, "+15550001", fmt.Sprintf("code-%d", i%3))
		require.NoError(t, err)
	}

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemStore_ConcurrentUpsertsSamePhone(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	var wg sync.WaitGroup
	created := make([]Outcome, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			up, err := s.Upsert(ctx, "+15550001", "482910")
			if err != nil {
				t.Error(err)
				return
			}
			created[i] = up.Outcome
		}(i)
	}
	wg.Wait()

	var createdCount int
	for _, o := range created {
		if o == OutcomeCreated {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount, "exactly one observer may decide 'new record'")

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemStore_ListOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	a, err := s.Upsert(ctx, "+15550001", "111")
	require.NoError(t, err)
	b, err := s.Upsert(ctx, "+15550002", "222")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "+15550003", "333")
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, a.Record.ID, StatusSuccess))
	require.NoError(t, s.UpdateStatus(ctx, b.Record.ID, StatusFailure))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i-1].UpdatedAt.Before(all[i].UpdatedAt), "list must be newest first")
	}

	failed, err := s.List(ctx, Filter{Status: StatusFailure})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "+15550002", failed[0].Phone)
}

func TestMemStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	up, err := s.Upsert(ctx, "+15550001", "111")
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, up.Record.ID, StatusSuccess))
	rec, err := s.GetByID(ctx, up.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.False(t, rec.UpdatedAt.Before(up.Record.UpdatedAt), "timestamp must not move backwards")

	err = s.UpdateStatus(ctx, "missing-id", StatusSuccess)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateStatus(ctx, up.Record.ID, Status("BOGUS"))
	assert.Error(t, err)
}

func TestMemStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	up, err := s.Upsert(ctx, "+15550001", "111")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, up.Record.ID))

	_, err = s.GetByPhone(ctx, "+15550001")
	assert.ErrorIs(t, err, ErrNotFound)

	// Phone is free again: next upsert creates a fresh record.
	again, err := s.Upsert(ctx, "+15550001", "111")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, again.Outcome)
	assert.NotEqual(t, up.Record.ID, again.Record.ID)

	assert.ErrorIs(t, s.Delete(ctx, up.Record.ID), ErrNotFound)
}

func TestMemStore_GetByPhoneMissing(t *testing.T) {
	_, err := NewMemStore().GetByPhone(context.Background(), "+19990000")
	assert.ErrorIs(t, err, ErrNotFound)
}
