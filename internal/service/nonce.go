package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	redisclient "github.com/paymind/sessionpay/internal/redis"
)

// nonceScript stores the nonce only if it is greater than the last accepted one.
var nonceScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local nonce = tonumber(ARGV[1])

if nonce <= current then
    return 0
end

redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
return 1
`)

// NonceGuard rejects replayed payment requests per session.
type NonceGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewNonceGuard(client *redis.Client, ttl time.Duration) *NonceGuard {
	return &NonceGuard{client: client, ttl: ttl}
}

// Advance records nonce for the session and reports whether it was fresh.
func (g *NonceGuard) Advance(ctx context.Context, sessionID string, nonce int64) (bool, error) {
	result, err := nonceScript.Run(
		ctx,
		g.client,
		[]string{redisclient.NonceKey(sessionID)},
		nonce,
		int64(g.ttl.Seconds()),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("advance nonce: %w", err)
	}
	return result == 1, nil
}
