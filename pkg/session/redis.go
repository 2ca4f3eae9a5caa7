package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStore はRedisのハッシュに保存するTokenStore。
// 複数のプロセスでセッションを共有する場合に使用する。
type RedisStore struct {
	rdb     redis.Cmdable
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	log     *logrus.Entry
}

// RedisOption はRedisStoreの設定を変更する関数。
type RedisOption func(*RedisStore)

// WithRedisPrefix はキーの接頭辞を設定する。
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithRedisTTL はハッシュ全体の有効期間を設定する。0の場合は期限を設けない。
func WithRedisTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// WithRedisLogger はコマンド失敗を記録するロガーを設定する。
func WithRedisLogger(log *logrus.Entry) RedisOption {
	return func(s *RedisStore) { s.log = log }
}

// NewRedisStore は新しいRedisStoreを生成する。
func NewRedisStore(rdb redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:     rdb,
		prefix:  "apigate:session",
		timeout: 3 * time.Second,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// hashKey はトークンを保存するハッシュのキーを返す。
func (s *RedisStore) hashKey() string {
	return s.prefix + ":tokens"
}

// Exists はkeyに値が保存されているかを返す。
func (s *RedisStore) Exists(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ok, err := s.rdb.HExists(ctx, s.hashKey(), key).Result()
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("トークンの存在確認に失敗")
		return false
	}
	return ok
}

// Read はkeyの値を返す。
func (s *RedisStore) Read(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	v, err := s.rdb.HGet(ctx, s.hashKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("トークンの読み込みに失敗")
		return "", false
	}
	return v, true
}

// Write はkeyに値を保存する。
func (s *RedisStore) Write(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.hashKey(), key, value)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.hashKey(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("トークンの保存に失敗: %w", err)
	}
	return nil
}

// Clear は保存されている全ての値を削除する。
func (s *RedisStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.rdb.Del(ctx, s.hashKey()).Err(); err != nil {
		return fmt.Errorf("トークンの削除に失敗: %w", err)
	}
	return nil
}
