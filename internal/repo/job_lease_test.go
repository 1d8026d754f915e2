package repo

import (
	"context"
	"testing"
	"time"
)

func TestJobLease_AcquireExpireRelease(t *testing.T) {
	db := newCircDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)

	if ok, err := AcquireJobLease(ctx, db, "credit-recovery", "host-a", now, now.Add(time.Hour)); err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, err := AcquireJobLease(ctx, db, "credit-recovery", "host-b", now.Add(time.Minute), now.Add(time.Hour)); err != nil || ok {
		t.Fatalf("live lease taken: %v, %v", ok, err)
	}
	if ok, err := AcquireJobLease(ctx, db, "reservation-expiry", "host-b", now, now.Add(time.Hour)); err != nil || !ok {
		t.Fatalf("other job = %v, %v", ok, err)
	}

	// Past expiry another holder takes over, and the old holder's release
	// leaves the new lease alone.
	later := now.Add(2 * time.Hour)
	if ok, err := AcquireJobLease(ctx, db, "credit-recovery", "host-b", later, later.Add(time.Hour)); err != nil || !ok {
		t.Fatalf("takeover = %v, %v", ok, err)
	}
	if err := ReleaseJobLease(ctx, db, "credit-recovery", "host-a"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := AcquireJobLease(ctx, db, "credit-recovery", "host-c", later, later.Add(time.Hour)); ok {
		t.Fatal("stale release dropped the live lease")
	}

	if err := ReleaseJobLease(ctx, db, "credit-recovery", "host-b"); err != nil {
		t.Fatal(err)
	}
	if ok, err := AcquireJobLease(ctx, db, "credit-recovery", "host-c", later, later.Add(time.Hour)); err != nil || !ok {
		t.Fatalf("after release = %v, %v", ok, err)
	}
}
