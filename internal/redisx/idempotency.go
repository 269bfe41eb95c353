package redisx

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrInFlight means another request with the same key has not finished yet.
var ErrInFlight = errors.New("a request with this idempotency key is still in progress")

// Idempotency guards order creation per (user, key). A claim is an empty
// value; Complete replaces it with the order id.
type Idempotency struct {
	Redis redis.Cmdable
}

func idemKey(userID, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, userID, key)
}

// Claim returns ("", nil) when the caller owns the key and must run the
// request, the earlier order id when it already completed, or ErrInFlight.
func (i *Idempotency) Claim(ctx context.Context, userID, key string) (string, error) {
	k := idemKey(userID, key)
	ok, err := i.Redis.SetNX(ctx, k, "", TTLIdempotency).Result()
	if err != nil {
		return "", errors.Wrap(err, "claim idempotency key")
	}
	if ok {
		return "", nil
	}
	orderID, err := i.Redis.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return i.Claim(ctx, userID, key)
	}
	if err != nil {
		return "", errors.Wrap(err, "read idempotency key")
	}
	if orderID == "" {
		return "", ErrInFlight
	}
	return orderID, nil
}

func (i *Idempotency) Complete(ctx context.Context, userID, key, orderID string) error {
	return errors.Wrap(i.Redis.Set(ctx, idemKey(userID, key), orderID, TTLIdempotency).Err(), "complete idempotency key")
}

// Abandon frees the key after a failed request so the client may retry.
func (i *Idempotency) Abandon(ctx context.Context, userID, key string) error {
	return errors.Wrap(i.Redis.Del(ctx, idemKey(userID, key)).Err(), "release idempotency key")
}
