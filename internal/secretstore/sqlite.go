package secretstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS secrets (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// SQLiteStore is a file-backed Store. Each value is sealed with AES-256-GCM
// under a key derived from the caller-supplied master secret, so the database
// file alone reveals nothing about stored values.
type SQLiteStore struct {
	db  *sql.DB
	key []byte
	mu  sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at path. masterSecret
// is the device-bound secret the sealing key is derived from; it must be at
// least 16 bytes.
func NewSQLiteStore(path string, masterSecret []byte) (*SQLiteStore, error) {
	if len(masterSecret) < 16 {
		return nil, errors.New("master secret must be at least 16 bytes")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create secrets table: %w", err)
	}

	key, err := deriveSealingKey(masterSecret)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, key: key}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	plaintext, err := s.open(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to unseal secret: %w", err)
	}
	return string(plaintext), nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, sealed)
	if err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// deriveSealingKey expands the master secret into a 32-byte AES key.
func deriveSealingKey(masterSecret []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, masterSecret, nil, []byte("applock-secret-store"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	return key, nil
}

// seal encrypts plaintext with AES-GCM; the nonce is prepended to the blob.
func (s *SQLiteStore) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return append(nonce, gcm.Seal(nil, nonce, plaintext, nil)...), nil
}

func (s *SQLiteStore) open(blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, errors.New("sealed blob too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
