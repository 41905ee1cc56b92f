package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/openmined/gdmirror/internal/config"
	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/ignore"
	"github.com/openmined/gdmirror/internal/record"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/openmined/gdmirror/internal/sync"
	"github.com/openmined/gdmirror/internal/utils"
	"github.com/spf13/afero"
)

var ErrLocalRootMissing = errors.New("local root does not exist")

// Client wires the local tree, the remote session and the record store to
// the sync engine, and enumerates candidates for it.
type Client struct {
	config  *config.Config
	fs      afero.Fs
	session *remote.Session
	env     *entity.Env
	store   *record.Store
	ignore  *ignore.List
	engine  *sync.Engine

	resolver sync.ConflictResolver
	// change token to persist once the current run succeeds
	pendingToken string
}

type Option func(*Client)

// WithFs replaces the local file system, the OS one by default.
func WithFs(fs afero.Fs) Option {
	return func(c *Client) {
		c.fs = fs
	}
}

func WithResolver(r sync.ConflictResolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

// New builds a client. cfg must already be validated. Nothing is opened and
// nothing authenticates until a scan needs it.
func New(cfg *config.Config, auth remote.Authenticator, opts ...Option) *Client {
	c := &Client{
		config:   cfg,
		fs:       afero.NewOsFs(),
		session:  remote.NewSession(auth),
		resolver: sync.SkipResolver{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.env = entity.NewEnv(c.fs, c.session)
	c.store = record.New(c.env)
	c.env.Resolver = c.store
	c.ignore = ignore.New(cfg.IgnorePaths...)
	c.engine = sync.NewEngine(c.store, c.session,
		sync.WithIgnore(c.ignore),
		sync.WithResolver(c.resolver),
	)
	return c
}

// Open connects the record store and loads the ignore file.
func (c *Client) Open() error {
	if ok, err := afero.DirExists(c.fs, c.config.LocalRoot); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%s: %w", c.config.LocalRoot, ErrLocalRootMissing)
	}
	if err := utils.EnsureParent(c.config.DBPath); err != nil {
		return fmt.Errorf("db dir: %w", err)
	}
	if err := c.store.Connect(c.config.DBPath, c.config.RemoteRoot, c.config.LocalRoot); err != nil {
		return err
	}
	if err := c.ignore.Load(c.fs, c.store.LocalRoot()); err != nil {
		return fmt.Errorf("load ignore file: %w", err)
	}
	slog.Info("client open", "local", c.store.LocalRoot(), "remote", c.store.RemoteRoot(), "db", c.config.DBPath)
	return nil
}

func (c *Client) Close() error {
	return c.store.Close()
}

func (c *Client) Store() *record.Store {
	return c.store
}

func (c *Client) Session() *remote.Session {
	return c.session
}

// Plan enumerates and classifies without executing anything. Root records
// and change tokens are not written.
func (c *Client) Plan(ctx context.Context, full bool) (*sync.CheckResult, error) {
	if err := c.enumerate(ctx, full, true); err != nil {
		return nil, err
	}
	return c.engine.Check()
}

// Sync runs one enumerate, check and execute pass, then persists the remote
// change token. A run that left changes unsettled keeps the old token, so
// the next run reads the same remote changes again.
func (c *Client) Sync(ctx context.Context, full bool) (*sync.Report, error) {
	if err := c.enumerate(ctx, full, false); err != nil {
		return nil, err
	}
	report, err := c.engine.Run(ctx)
	if err != nil {
		return report, err
	}
	if !report.Settled() {
		slog.Warn("changes left unsettled, keeping change token", "unsettled", report.Unsettled,
			"token", c.config.LastChangeToken)
		c.pendingToken = ""
		return report, nil
	}
	if err := c.commitToken(); err != nil {
		return report, err
	}
	return report, nil
}

// History returns every record kept for a root-relative path on both sides,
// deleted ones included, newest first per side.
func (c *Client) History(rel string) ([]*record.Record, error) {
	var out []*record.Record
	for _, kind := range []entity.Kind{entity.KindLocal, entity.KindRemote} {
		p := utils.JoinSlash(c.store.Root(kind), rel)
		for _, dir := range []bool{false, true} {
			recs, err := c.store.History(c.env.New(kind, entity.Attrs{Path: p, Dir: &dir}))
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
	}
	return out, nil
}

func (c *Client) Stats() (*record.Stats, error) {
	return c.store.Stats()
}

// commitToken saves the change token and remote root id. Only those two
// fields are written into an existing settings file, and only when it
// describes the same roots and backend as this run.
func (c *Client) commitToken() error {
	if c.pendingToken == "" || c.pendingToken == c.config.LastChangeToken {
		return nil
	}
	c.config.LastChangeToken = c.pendingToken
	c.pendingToken = ""
	if c.config.Path == "" {
		return nil
	}

	onDisk, err := config.Load(c.config.Path)
	if errors.Is(err, fs.ErrNotExist) {
		// no settings yet: this run's settings become the file
		if err := c.config.Save(c.config.Path); err != nil {
			return fmt.Errorf("save change token: %w", err)
		}
		utils.Trace("change token saved", "token", c.config.LastChangeToken)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload settings: %w", err)
	}

	resolved := *onDisk
	if err := resolved.Validate(); err != nil {
		return fmt.Errorf("reload settings: %w", err)
	}
	if resolved.LocalRoot != c.config.LocalRoot || resolved.RemoteRoot != c.config.RemoteRoot ||
		resolved.Backend != c.config.Backend {
		slog.Warn("settings file describes another mirror, change token not saved",
			"file", c.config.Path, "local", resolved.LocalRoot, "remote", resolved.RemoteRoot)
		return nil
	}

	onDisk.LastChangeToken = c.config.LastChangeToken
	onDisk.RemoteRootID = c.config.RemoteRootID
	if err := onDisk.Save(c.config.Path); err != nil {
		return fmt.Errorf("save change token: %w", err)
	}
	utils.Trace("change token saved", "token", c.config.LastChangeToken)
	return nil
}
