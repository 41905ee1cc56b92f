package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Authenticator establishes a usable remote session.
type Authenticator interface {
	Authenticate(ctx context.Context) (Storage, error)
}

type AuthenticatorFunc func(ctx context.Context) (Storage, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context) (Storage, error) {
	return f(ctx)
}

// Session is a Storage that authenticates lazily. Until Authenticate
// succeeds every call fails with ErrNotAuthenticated.
type Session struct {
	auth    Authenticator
	mu      sync.RWMutex
	storage Storage
	logins  int
}

var _ Storage = (*Session)(nil)

func NewSession(auth Authenticator) *Session {
	return &Session{auth: auth}
}

// Authenticate logs in once. Later calls are no-ops.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storage != nil {
		return nil
	}

	slog.Info("remote authenticate")
	st, err := s.auth.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	s.storage = st
	s.logins++
	return nil
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage != nil
}

// Logins counts successful authentications.
func (s *Session) Logins() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logins
}

func (s *Session) current() (Storage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.storage == nil {
		return nil, ErrNotAuthenticated
	}
	return s.storage, nil
}

func (s *Session) Get(ctx context.Context, id string) (*Object, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, id)
}

func (s *Session) List(ctx context.Context, parentID, pageToken string) (*Page, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.List(ctx, parentID, pageToken)
}

func (s *Session) Lookup(ctx context.Context, absPath string) (*Object, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.Lookup(ctx, absPath)
}

func (s *Session) CreateFolder(ctx context.Context, parentID, name string) (*Object, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.CreateFolder(ctx, parentID, name)
}

func (s *Session) Upload(ctx context.Context, params *UploadParams) (*Object, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.Upload(ctx, params)
}

func (s *Session) Update(ctx context.Context, id string, body io.Reader, size int64) (*Object, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.Update(ctx, id, body, size)
}

func (s *Session) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.Download(ctx, id)
}

func (s *Session) Trash(ctx context.Context, id string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return st.Trash(ctx, id)
}

func (s *Session) StartChangeToken(ctx context.Context) (string, error) {
	st, err := s.current()
	if err != nil {
		return "", err
	}
	return st.StartChangeToken(ctx)
}

func (s *Session) Changes(ctx context.Context, token string) (*ChangeSet, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.Changes(ctx, token)
}
