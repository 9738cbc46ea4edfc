package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/cartloom/storefront/pkg/logger"
)

const defaultGuestCartTTLDays = 30

type GuestCartExpiryJobParams struct {
	Logger  *logger.Logger
	Carts   guestCartExpirer
	TTLDays int
}

type guestCartExpirer interface {
	ExpireGuestCarts(ctx context.Context, cutoff time.Time) (int, error)
}

// NewGuestCartExpiryJob builds the job that drops idle guest carts and frees
// the stock they held.
func NewGuestCartExpiryJob(params GuestCartExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	ttl := params.TTLDays
	if ttl <= 0 {
		ttl = defaultGuestCartTTLDays
	}
	return &guestCartExpiryJob{
		logg:    params.Logger,
		carts:   params.Carts,
		ttlDays: ttl,
		now:     time.Now,
	}, nil
}

type guestCartExpiryJob struct {
	logg    *logger.Logger
	carts   guestCartExpirer
	ttlDays int
	now     func() time.Time
}

func (j *guestCartExpiryJob) Name() string { return "guest-cart-expiry" }

func (j *guestCartExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.ttlDays) * 24 * time.Hour)
	expired, err := j.carts.ExpireGuestCarts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("guest cart expiry: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":        cutoff,
		"ttl_days":      j.ttlDays,
		"carts_expired": expired,
	})
	j.logg.Info(logCtx, "guest cart expiry complete")
	return nil
}
