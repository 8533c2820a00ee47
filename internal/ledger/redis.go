package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	backend "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var redisTracer = otel.Tracer("ledger.redis")

const (
	fieldBalance    = "balance"
	fieldType       = "type"
	fieldCreateTime = "create_time"
)

// RedisStore keeps every account in a hash keyed by its hex address.
// Batches are committed with WATCH + MULTI/EXEC.
type RedisStore struct {
	client *backend.Client
	prefix string

	// afterPlan runs between planning a batch and its EXEC
	afterPlan func(ctx context.Context)
}

type RedisOption func(*RedisStore)

// hashReader is satisfied by both *backend.Client and *backend.Tx
type hashReader interface {
	HGetAll(ctx context.Context, key string) *backend.MapStringStringCmd
}

// WithPrefix sets the key prefix for account hashes
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store on a new client
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a store from an existing client
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: "ledger:account:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) key(addr domain.Address) string {
	return s.prefix + hex.EncodeToString(addr)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Get implements State
func (s *RedisStore) Get(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	acc, err := s.read(ctx, s.client, addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

// Put implements State
func (s *RedisStore) Put(ctx context.Context, account *domain.Account) error {
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		s.write(ctx, pipe, account)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put account in redis: %w", err)
	}
	return nil
}

// AdjustBalance implements State
func (s *RedisStore) AdjustBalance(ctx context.Context, addr domain.Address, delta int64) error {
	return s.Apply(ctx, Batch{Deltas: []Delta{{Address: addr, Amount: delta}}})
}

// Apply implements State. Every touched key is watched, so a write by another
// client between planning and EXEC aborts the commit with ErrConflict.
func (s *RedisStore) Apply(ctx context.Context, batch Batch) error {
	if batch.Empty() {
		return nil
	}

	ctx, span := redisTracer.Start(ctx, "redis.apply_batch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.Int("ledger.creates", len(batch.Creates)),
			attribute.Int("ledger.deltas", len(batch.Deltas)),
		))
	defer span.End()

	keys := make([]string, 0, len(batch.Creates)+len(batch.Deltas))
	for _, c := range batch.Creates {
		keys = append(keys, s.key(c.Address))
	}
	for _, d := range batch.Deltas {
		keys = append(keys, s.key(d.Address))
	}

	err := s.client.Watch(ctx, func(tx *backend.Tx) error {
		updated, err := batch.plan(func(key string) (*domain.Account, error) {
			return s.read(ctx, tx, domain.Address(key))
		})
		if err != nil {
			return err
		}
		if s.afterPlan != nil {
			s.afterPlan(ctx)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			for _, acc := range updated {
				s.write(ctx, pipe, acc)
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, backend.TxFailedErr) {
		span.RecordError(err)
		return ErrConflict
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Accounts implements Lister, ordered by address
func (s *RedisStore) Accounts(ctx context.Context) ([]*domain.Account, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts from redis: %w", err)
	}
	sort.Strings(members)

	result := make([]*domain.Account, 0, len(members))
	for _, m := range members {
		raw, err := hex.DecodeString(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt account index entry %q: %w", m, err)
		}
		acc, err := s.read(ctx, s.client, raw)
		if err != nil {
			return nil, err
		}
		if acc != nil {
			result = append(result, acc)
		}
	}
	return result, nil
}

// Ping checks the connection to redis
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) read(ctx context.Context, c hashReader, addr domain.Address) (*domain.Account, error) {
	fields, err := c.HGetAll(ctx, s.key(addr)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	balance, err := strconv.ParseInt(fields[fieldBalance], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for %s: %w", addr, err)
	}
	createTime, err := strconv.ParseInt(fields[fieldCreateTime], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt create_time for %s: %w", addr, err)
	}

	return &domain.Account{
		Address:    append(domain.Address(nil), addr...),
		Balance:    balance,
		Type:       domain.AccountType(fields[fieldType]),
		CreateTime: createTime,
	}, nil
}

func (s *RedisStore) write(ctx context.Context, pipe backend.Pipeliner, acc *domain.Account) {
	pipe.HSet(ctx, s.key(acc.Address),
		fieldBalance, strconv.FormatInt(acc.Balance, 10),
		fieldType, string(acc.Type),
		fieldCreateTime, strconv.FormatInt(acc.CreateTime, 10),
	)
	pipe.SAdd(ctx, s.indexKey(), hex.EncodeToString(acc.Address))
}
