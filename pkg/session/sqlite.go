package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nao1215/apigate/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore はSQLiteに保存するTokenStore。
// ブラウザのローカルストレージのように、プロセスを再起動してもトークンが残る。
type SQLiteStore struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// timeout は1回のクエリに許容する時間。
	timeout time.Duration
	// log はクエリ失敗を記録するロガー。
	log *logrus.Entry
}

// OpenSQLiteStore はpathのSQLiteデータベースを開き、スキーマを適用する。
func OpenSQLiteStore(ctx context.Context, path string, log *logrus.Entry) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	s, err := NewSQLiteStore(ctx, db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore は既存の接続からSQLiteStoreを生成する。
func NewSQLiteStore(ctx context.Context, db *sql.DB, log *logrus.Entry) (*SQLiteStore, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := migration.Run(ctx, db, migrationsFS, "migrations", log); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db, timeout: 5 * time.Second, log: log}, nil
}

// Exists はkeyに値が保存されているかを返す。
func (s *SQLiteStore) Exists(key string) bool {
	_, ok := s.Read(key)
	return ok
}

// Read はkeyの値を返す。
func (s *SQLiteStore) Read(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM tokens WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("トークンの読み込みに失敗")
		return "", false
	}
	return value, true
}

// Write はkeyに値を保存する。既存の値は上書きする。
func (s *SQLiteStore) Write(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, key, value); err != nil {
		return fmt.Errorf("トークンの保存に失敗: %w", err)
	}
	return nil
}

// Clear は保存されている全ての値を削除する。
func (s *SQLiteStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM tokens"); err != nil {
		return fmt.Errorf("トークンの削除に失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
