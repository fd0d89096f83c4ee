package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"skillhub/internal/storage"
)

// ErrInvalidToken is returned by validators for unknown, malformed, or
// expired credentials.
var ErrInvalidToken = errors.New("invalid or expired token")

// SessionValidator resolves a bearer token to a user identity. Any error that
// is not ErrInvalidToken means the validator itself failed; callers must fail
// closed either way.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// StoreValidator checks tokens against the sessions table.
type StoreValidator struct {
	store *storage.Store
}

func NewStoreValidator(store *storage.Store) *StoreValidator {
	return &StoreValidator{store: store}
}

func (v *StoreValidator) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	sess, err := v.store.GetSession(ctx, token)
	if err != nil {
		return "", fmt.Errorf("session lookup: %w", err)
	}
	if sess == nil || time.Now().After(sess.ExpiresAt) {
		return "", ErrInvalidToken
	}
	user, err := v.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return "", fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		return "", ErrInvalidToken
	}
	return user.Username, nil
}

const redisSessionPrefix = "session:"

// RedisValidator checks tokens against redis keys written by an external
// login service (session:<token> -> user identity).
type RedisValidator struct {
	client *redis.Client
}

func NewRedisValidator(client *redis.Client) *RedisValidator {
	return &RedisValidator{client: client}
}

func (v *RedisValidator) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	userID, err := v.client.Get(ctx, redisSessionPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("redis session lookup: %w", err)
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// NewRedisSessionClient connects to redis and verifies the connection, for
// deployments where session tokens are minted by an external service.
func NewRedisSessionClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
