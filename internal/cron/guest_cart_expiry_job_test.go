package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cartloom/storefront/pkg/logger"
)

func TestGuestCartExpiryJobUsesConfiguredTTL(t *testing.T) {
	now := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	carts := &fakeCartExpirer{expired: 5}
	job := newGuestCartExpiryJob(t, carts, 7)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	expectedCutoff := now.Add(-7 * 24 * time.Hour)
	if !carts.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, carts.lastCutoff)
	}
	if carts.called != 1 {
		t.Fatalf("expected one expiry call, got %d", carts.called)
	}
}

func TestGuestCartExpiryJobDefaultsTTL(t *testing.T) {
	carts := &fakeCartExpirer{}
	job := newGuestCartExpiryJob(t, carts, 0)
	if job.ttlDays != defaultGuestCartTTLDays {
		t.Fatalf("expected default ttl %d, got %d", defaultGuestCartTTLDays, job.ttlDays)
	}
}

func TestGuestCartExpiryJobPropagatesErrors(t *testing.T) {
	carts := &fakeCartExpirer{err: errors.New("boom")}
	job := newGuestCartExpiryJob(t, carts, 7)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func newGuestCartExpiryJob(t *testing.T, carts *fakeCartExpirer, ttlDays int) *guestCartExpiryJob {
	t.Helper()
	jobIface, err := NewGuestCartExpiryJob(GuestCartExpiryJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Carts:   carts,
		TTLDays: ttlDays,
	})
	if err != nil {
		t.Fatalf("NewGuestCartExpiryJob: %v", err)
	}
	job, ok := jobIface.(*guestCartExpiryJob)
	if !ok {
		t.Fatalf("expected guestCartExpiryJob, got %T", jobIface)
	}
	return job
}

type fakeCartExpirer struct {
	lastCutoff time.Time
	expired    int
	err        error
	called     int
}

func (f *fakeCartExpirer) ExpireGuestCarts(ctx context.Context, cutoff time.Time) (int, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return f.expired, nil
}
