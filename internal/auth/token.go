package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/openmined/gdmirror/internal/utils"
)

var ErrTokenLocked = errors.New("token store locked by another process")

const lockRetryDelay = 50 * time.Millisecond

// Token is what a successful login leaves behind.
type Token struct {
	Bucket          string    `json:"bucket"`
	Region          string    `json:"region"`
	Endpoint        string    `json:"endpoint,omitempty"`
	SessionToken    string    `json:"session_token,omitempty"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// TokenStore persists a Token as JSON, guarded by a sibling .lock file.
type TokenStore struct {
	path string
	lock *flock.Flock
	wait time.Duration
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{
		path: path,
		lock: flock.New(path + ".lock"),
		wait: 2 * time.Second,
	}
}

func (s *TokenStore) Path() string {
	return s.path
}

// Load returns the stored token, or nil when none was saved yet.
func (s *TokenStore) Load(ctx context.Context) (*Token, error) {
	var tok *Token
	err := s.withLock(ctx, func() error {
		data, err := os.ReadFile(s.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		tok = &Token{}
		return json.Unmarshal(data, tok)
	})
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	return tok, nil
}

func (s *TokenStore) Save(ctx context.Context, tok *Token) error {
	err := s.withLock(ctx, func() error {
		data, err := json.MarshalIndent(tok, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(s.path, data, 0o600)
	})
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *TokenStore) withLock(ctx context.Context, fn func() error) error {
	if err := utils.EnsureParent(s.path); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !locked {
		return ErrTokenLocked
	}
	defer s.lock.Unlock()

	return fn()
}
