package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taskquest/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements the engine.LedgerStore interface using Redis as the backend.
// Data structure:
// - user:{user_id}:version -> integer optimistic-concurrency token (also the existence marker)
// - user:{user_id}:balance -> int64 point balance
// - user:{user_id}:history -> list of HistoryEntry JSON blobs, append order
// - user:{user_id}:unlocks -> hash achievement_id -> Unlock JSON blob
type Store struct {
	client *redis.Client
}

// New creates a new Redis-backed ledger store with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func userVersionKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:version", userID)
}

func userBalanceKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:balance", userID)
}

func userHistoryKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:history", userID)
}

func userUnlocksKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:unlocks", userID)
}

// CreateUser provisions the user's keys; existing users are left alone.
func (s *Store) CreateUser(ctx context.Context, userID core.UserID) error {
	created, err := s.client.SetNX(ctx, userVersionKey(userID), 0, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if created {
		if err := s.client.SetNX(ctx, userBalanceKey(userID), 0, 0).Err(); err != nil {
			return fmt.Errorf("failed to create user balance: %w", err)
		}
	}
	return nil
}

// LoadSnapshot rebuilds the user's full ledger state from its keys.
func (s *Store) LoadSnapshot(ctx context.Context, userID core.UserID) (core.Snapshot, error) {
	versionStr, err := s.client.Get(ctx, userVersionKey(userID)).Result()
	if err == redis.Nil {
		return core.Snapshot{}, fmt.Errorf("%w: %s", core.ErrUserNotFound, userID)
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to read version: %w", err)
	}
	version, err := strconv.ParseUint(versionStr, 10, 64)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("corrupt version for %s: %w", userID, err)
	}

	snap := core.Snapshot{UserID: userID, Version: version}

	balance, err := s.client.Get(ctx, userBalanceKey(userID)).Int64()
	if err != nil && err != redis.Nil {
		return core.Snapshot{}, fmt.Errorf("failed to read balance: %w", err)
	}
	snap.PointBalance = balance

	raw, err := s.client.LRange(ctx, userHistoryKey(userID), 0, -1).Result()
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to read history: %w", err)
	}
	snap.History = make([]core.HistoryEntry, 0, len(raw))
	for _, blob := range raw {
		var e core.HistoryEntry
		if err := json.Unmarshal([]byte(blob), &e); err != nil {
			return core.Snapshot{}, fmt.Errorf("corrupt history entry for %s: %w", userID, err)
		}
		snap.History = append(snap.History, e)
	}

	unlockBlobs, err := s.client.HGetAll(ctx, userUnlocksKey(userID)).Result()
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to read unlocks: %w", err)
	}
	snap.Unlocks = make([]core.Unlock, 0, len(unlockBlobs))
	for _, blob := range unlockBlobs {
		var u core.Unlock
		if err := json.Unmarshal([]byte(blob), &u); err != nil {
			return core.Snapshot{}, fmt.Errorf("corrupt unlock for %s: %w", userID, err)
		}
		snap.Unlocks = append(snap.Unlocks, u)
	}

	return snap, nil
}

// Lua script applying a whole mutation atomically: version check, balance
// write, history appends, unlock inserts, version bump.
var persistScript = redis.NewScript(`
	local version = redis.call('GET', KEYS[1])
	if not version then
		return redis.error_reply('user not found')
	end
	if tonumber(version) ~= tonumber(ARGV[1]) then
		return redis.error_reply('version conflict')
	end

	redis.call('SET', KEYS[2], ARGV[2])

	local entries = tonumber(ARGV[3])
	for i = 4, 3 + entries do
		redis.call('RPUSH', KEYS[3], ARGV[i])
	end
	for i = 4 + entries, #ARGV, 2 do
		redis.call('HSET', KEYS[4], ARGV[i], ARGV[i + 1])
	end

	return redis.call('INCR', KEYS[1])
`)

// Persist applies the mutation in one atomic script so a pass is never
// half-written.
func (s *Store) Persist(ctx context.Context, m core.Mutation) error {
	keys := []string{
		userVersionKey(m.UserID),
		userBalanceKey(m.UserID),
		userHistoryKey(m.UserID),
		userUnlocksKey(m.UserID),
	}
	argv := make([]interface{}, 0, 3+len(m.Entries)+2*len(m.Unlocks))
	argv = append(argv, m.BaseVersion, m.NewBalance, len(m.Entries))
	for _, e := range m.Entries {
		blob, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal history entry: %w", err)
		}
		argv = append(argv, string(blob))
	}
	for _, u := range m.Unlocks {
		blob, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal unlock: %w", err)
		}
		argv = append(argv, u.AchievementID, string(blob))
	}

	if err := persistScript.Run(ctx, s.client, keys, argv...).Err(); err != nil {
		switch {
		case strings.Contains(err.Error(), "version conflict"):
			return fmt.Errorf("%w: %s", core.ErrVersionConflict, m.UserID)
		case strings.Contains(err.Error(), "user not found"):
			return fmt.Errorf("%w: %s", core.ErrUserNotFound, m.UserID)
		default:
			return fmt.Errorf("failed to persist mutation: %w", err)
		}
	}
	return nil
}
