package session

import (
	"errors"
	"sync"
)

const (
	// AccessTokenKey はアクセストークンを保存するキー。
	AccessTokenKey = "access_token"
	// RefreshTokenKey はリフレッシュトークンを保存するキー。
	RefreshTokenKey = "refresh_token"
)

// ErrNoToken は更新に必要なトークンが保存されていないことを表す。
var ErrNoToken = errors.New("トークンが保存されていません")

// TokenStore はセッショントークンの保存先。
type TokenStore interface {
	// Exists はkeyに値が保存されているかを返す。
	Exists(key string) bool
	// Read はkeyの値を返す。保存されていない場合はfalseを返す。
	Read(key string) (string, bool)
	// Write はkeyに値を保存する。
	Write(key, value string) error
	// Clear は保存されている全ての値を削除する。
	Clear() error
}

// MemoryStore はプロセス内のmapに保存するTokenStore。
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore は新しいMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Exists はkeyに値が保存されているかを返す。
func (s *MemoryStore) Exists(key string) bool {
	_, ok := s.Read(key)
	return ok
}

// Read はkeyの値を返す。
func (s *MemoryStore) Read(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Write はkeyに値を保存する。
func (s *MemoryStore) Write(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Clear は保存されている全ての値を削除する。
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
	return nil
}
