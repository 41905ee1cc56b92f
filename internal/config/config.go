package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/openmined/gdmirror/internal/utils"
)

const (
	BackendS3     = "s3"
	BackendMemory = "memory"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".gdmirror", "config.json")
	DefaultLogFile    = filepath.Join(home, ".gdmirror", "logs", "gdmirror.log")

	DefaultRemoteRoot      = "/"
	DefaultDBPath          = ".gdmirror-db.sqlite"
	DefaultCredentialsFile = "credentials.json"
	DefaultTokenFile       = ".gdmirror-token.json"
	DefaultIgnorePaths     = []string{".gdmirror*"}
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LocalRoot       string   `json:"local_root"`
	RemoteRoot      string   `json:"remote_root"`
	RemoteRootID    string   `json:"remote_root_id,omitempty"`
	Backend         string   `json:"backend,omitempty"`
	DBPath          string   `json:"db_path"`
	CredentialsFile string   `json:"credentials_file"`
	TokenFile       string   `json:"token_file"`
	IgnorePaths     []string `json:"ignore_paths"`
	LastChangeToken string   `json:"last_change_token,omitempty"`
	LogFile         string   `json:"log_file,omitempty"`
	Path            string   `json:"-"`
}

// Default returns the settings a fresh install starts with. The local root
// is the working directory.
func Default() *Config {
	cwd, _ := os.Getwd()
	return &Config{
		LocalRoot:       cwd,
		RemoteRoot:      DefaultRemoteRoot,
		Backend:         BackendS3,
		DBPath:          DefaultDBPath,
		CredentialsFile: DefaultCredentialsFile,
		TokenFile:       DefaultTokenFile,
		IgnorePaths:     append([]string(nil), DefaultIgnorePaths...),
		LogFile:         DefaultLogFile,
	}
}

// Validate fills empty fields with defaults and resolves paths. The database
// and token files are placed under the local root when relative, the
// credentials file next to the config file.
func (c *Config) Validate() error {
	var err error

	if c.LocalRoot == "" {
		return fmt.Errorf("%w: local root is required", ErrInvalidConfig)
	}
	if c.LocalRoot, err = utils.ResolvePath(c.LocalRoot); err != nil {
		return fmt.Errorf("%w: local root: %v", ErrInvalidConfig, err)
	}

	c.RemoteRoot = normRemoteRoot(c.RemoteRoot)

	switch c.Backend {
	case "":
		c.Backend = BackendS3
	case BackendS3, BackendMemory:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}

	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.TokenFile == "" {
		c.TokenFile = DefaultTokenFile
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = DefaultCredentialsFile
	}
	if c.IgnorePaths == nil {
		c.IgnorePaths = append([]string(nil), DefaultIgnorePaths...)
	}

	if c.DBPath, err = resolveUnder(c.LocalRoot, c.DBPath); err != nil {
		return fmt.Errorf("%w: db path: %v", ErrInvalidConfig, err)
	}
	if c.TokenFile, err = resolveUnder(c.LocalRoot, c.TokenFile); err != nil {
		return fmt.Errorf("%w: token file: %v", ErrInvalidConfig, err)
	}

	credBase := "."
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("%w: config path: %v", ErrInvalidConfig, err)
		}
		credBase = filepath.Dir(c.Path)
	}
	if c.CredentialsFile, err = resolveUnder(credBase, c.CredentialsFile); err != nil {
		return fmt.Errorf("%w: credentials file: %v", ErrInvalidConfig, err)
	}

	if c.LogFile != "" {
		if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
			return fmt.Errorf("%w: log file: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Save writes the config as JSON and remembers path.
func (c *Config) Save(p string) error {
	if err := utils.EnsureParent(p); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return err
	}
	c.Path = p
	return nil
}

// Load reads a config file. Fields missing from the file keep their defaults.
func Load(p string) (*Config, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	cfg.Path = p
	return cfg, nil
}

func normRemoteRoot(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultRemoteRoot
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func resolveUnder(base, p string) (string, error) {
	if strings.HasPrefix(p, "~") || filepath.IsAbs(p) {
		return utils.ResolvePath(p)
	}
	return utils.ResolvePath(filepath.Join(base, p))
}
