package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

// seedHoldScenario: one copy of I2 (B2) on loan to B, reader A waiting-ready.
func seedHoldScenario(t *testing.T) (*Core, *testClock) {
	t.Helper()
	core, db, clk := newTestCore(t)
	addTitle(t, db, "I2", "Concurrency in Go", "Cox-Buday")
	addCopy(t, db, "B2", "I2", domain.CopyInStock)
	addReader(t, db, "A", 95)
	addReader(t, db, "B", 100)
	addReader(t, db, "C", 100)
	_, err := core.Circulation.Borrow(context.Background(), desk, "B2", "B")
	require.NoError(t, err)
	return core, clk
}

func TestReservation_HoldScenario(t *testing.T) {
	core, clk := seedHoldScenario(t)
	db := core.Circulation.DB
	ctx := context.Background()

	ra, err := core.Reservations.Enqueue(ctx, readerID("A"), "A", "I2")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationQueued, ra.Status)
	assert.Equal(t, day0.Add(domain.QueueCeiling), ra.ExpiresAt.UTC())

	clk.Advance(2 * dayLen)
	res, err := core.Circulation.Return(ctx, desk, "B2")
	require.NoError(t, err)
	require.NotNil(t, res.Allocated)
	assert.Equal(t, ra.ID, res.Allocated.ID)
	assert.Equal(t, domain.ReservationAllocated, res.Allocated.Status)
	assert.Equal(t, clk.Now().Add(domain.HoldPickupWindow), res.Allocated.ExpiresAt.UTC())
	require.NotNil(t, res.Allocated.Barcode)
	assert.Equal(t, "B2", *res.Allocated.Barcode)
	assert.Equal(t, domain.CopyHeld, copyStatus(t, db, "B2"))

	_, err = core.Circulation.Borrow(ctx, desk, "B2", "C")
	se := requireKind(t, err, ErrInvalidState)
	assert.Equal(t, "reserved by another reader", se.Message)
	assert.Equal(t, domain.CopyHeld, copyStatus(t, db, "B2"))

	rec, err := core.Circulation.Borrow(ctx, desk, "B2", "A")
	require.NoError(t, err)
	assert.Equal(t, "A", rec.ReaderID)
	assert.Equal(t, domain.CopyBorrowed, copyStatus(t, db, "B2"))

	got, err := repo.GetReservation(ctx, db, ra.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationFulfilled, got.Status)
}

func TestReservation_FIFOAllocation(t *testing.T) {
	core, clk := seedHoldScenario(t)
	db := core.Circulation.DB
	ctx := context.Background()
	addReader(t, db, "D", 100)

	r1, err := core.Reservations.Enqueue(ctx, desk, "A", "I2")
	require.NoError(t, err)
	clk.Advance(dayLen)
	r2, err := core.Reservations.Enqueue(ctx, desk, "D", "I2")
	require.NoError(t, err)

	v2, err := core.Reservations.Get(ctx, readerID("D"), r2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Position)

	clk.Advance(dayLen)
	res, err := core.Circulation.Return(ctx, desk, "B2")
	require.NoError(t, err)
	require.NotNil(t, res.Allocated)
	assert.Equal(t, r1.ID, res.Allocated.ID)

	got2, err := repo.GetReservation(ctx, db, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationQueued, got2.Status)
	assert.Nil(t, got2.Barcode)

	v2, err = core.Reservations.Get(ctx, readerID("D"), r2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v2.Position)

	_, err = core.Reservations.Get(ctx, readerID("A"), r2.ID)
	requireKind(t, err, ErrPermissionDenied)
}

func TestReservation_EnqueuePreconditions(t *testing.T) {
	core, db, _ := newTestCore(t)
	addTitle(t, db, "I1", "On Shelf", "X")
	addTitle(t, db, "I2", "Out", "Y")
	addTitle(t, db, "I3", "Also Out", "Z")
	addCopy(t, db, "S1", "I1", domain.CopyInStock)
	addCopy(t, db, "S2", "I2", domain.CopyBorrowed)
	addCopy(t, db, "S3", "I3", domain.CopyBorrowed)
	addReader(t, db, "low", 89)
	addReader(t, db, "ok", 90)
	ctx := context.Background()

	_, err := core.Reservations.Enqueue(ctx, desk, "ok", "NOPE")
	requireKind(t, err, ErrNotFound)

	_, err = core.Reservations.Enqueue(ctx, desk, "ghost", "I2")
	requireKind(t, err, ErrNotFound)

	_, err = core.Reservations.Enqueue(ctx, desk, "low", "I2")
	se := requireKind(t, err, ErrPermissionDenied)
	assert.Equal(t, 89, se.Details["credit"])

	_, err = core.Reservations.Enqueue(ctx, desk, "ok", "I1")
	requireKind(t, err, ErrInvalidState)

	_, err = core.Reservations.Enqueue(ctx, readerID("low"), "ok", "I2")
	requireKind(t, err, ErrPermissionDenied)

	_, err = core.Reservations.Enqueue(ctx, readerID("ok"), "", "I2")
	require.NoError(t, err)

	_, err = core.Reservations.Enqueue(ctx, desk, "ok", "I3")
	se = requireKind(t, err, ErrConflict)
	assert.Equal(t, "reader already has an open reservation", se.Message)

	_, err = core.Reservations.Enqueue(ctx, desk, "ok", "I2")
	se = requireKind(t, err, ErrConflict)
	assert.Equal(t, "reader already reserved this title", se.Message)

	// Credit is checked before availability.
	_, err = core.Reservations.Enqueue(ctx, desk, "low", "I1")
	requireKind(t, err, ErrPermissionDenied)
}

func TestExpireStaleHolds_ReleasesCopyAndChargesOnce(t *testing.T) {
	core, clk := seedHoldScenario(t)
	db := core.Circulation.DB
	ctx := context.Background()

	ra, err := core.Reservations.Enqueue(ctx, readerID("A"), "", "I2")
	require.NoError(t, err)
	_, err = core.Circulation.Return(ctx, desk, "B2")
	require.NoError(t, err)

	// Still inside the pickup window.
	clk.Advance(domain.HoldPickupWindow - dayLen)
	res, err := core.Maintenance.ScanReservationExpiry(ctx, system, RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Affected)
	assert.Equal(t, domain.CopyHeld, copyStatus(t, db, "B2"))

	clk.Advance(2 * dayLen)
	res, err = core.Maintenance.ScanReservationExpiry(ctx, system, RunOptions{Trigger: TriggerScheduler})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	assert.Zero(t, res.Failed)

	assert.Equal(t, domain.CopyInStock, copyStatus(t, db, "B2"))
	got, err := repo.GetReservation(ctx, db, ra.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, got.Status)
	assert.Equal(t, 85, credit(t, db, "A"))

	log := creditLog(t, db, "A")
	require.Len(t, log, 1)
	assert.Equal(t, domain.ReasonMissedHold, log[0].Reason)
	assert.Equal(t, domain.SystemOperator, log[0].Operator)

	res, err = core.Maintenance.ScanReservationExpiry(ctx, system, RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Affected)
	assert.Equal(t, 85, credit(t, db, "A"))
	assert.Len(t, creditLog(t, db, "A"), 1)

	runs, err := core.Maintenance.ListRuns(ctx, system, JobReservationExpiry, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	assert.Equal(t, TriggerManual, runs[0].Trigger)
}
