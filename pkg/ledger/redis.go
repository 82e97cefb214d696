package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLedger keeps balances in Redis so several world servers can
// share one economy. Debits use DECRBY and roll back on overdraw, which
// keeps the check-and-debit atomic without a script.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "worldsmith:balance:"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) key(account string) string {
	return l.prefix + account
}

func (l *RedisLedger) Balance(ctx context.Context, account string) (int64, error) {
	balance, err := l.client.Get(ctx, l.key(account)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrUnknownAccount
	}
	if err != nil {
		return 0, fmt.Errorf("read balance for %s: %w", account, err)
	}
	return balance, nil
}

func (l *RedisLedger) Debit(ctx context.Context, account string, amount int64) error {
	remaining, err := l.client.DecrBy(ctx, l.key(account), amount).Result()
	if err != nil {
		return fmt.Errorf("debit %s: %w", account, err)
	}
	if remaining < 0 {
		if _, err := l.client.IncrBy(ctx, l.key(account), amount).Result(); err != nil {
			return fmt.Errorf("roll back overdraw for %s: %w", account, err)
		}
		return ErrInsufficientFunds
	}
	return nil
}

func (l *RedisLedger) Credit(ctx context.Context, account string, amount int64) error {
	if _, err := l.client.IncrBy(ctx, l.key(account), amount).Result(); err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}
