package redisx

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids per consuming service.
type Dedup struct {
	Redis   redis.Cmdable
	Service string
}

// Seen reports whether eventID was already handled.
func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := Exists(ctx, d.Redis, fmt.Sprintf(KeyDedup, d.Service, eventID))
	return ok, errors.Wrap(err, "check dedup key")
}

// Mark records eventID as handled. Call it after the side effect succeeded.
func (d *Dedup) Mark(ctx context.Context, eventID string) error {
	err := d.Redis.Set(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Err()
	return errors.Wrap(err, "set dedup key")
}
