package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/openmined/gdmirror/internal/auth"
	"github.com/openmined/gdmirror/internal/client"
	"github.com/openmined/gdmirror/internal/config"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/openmined/gdmirror/internal/sync"
)

func newAuthenticator(cfg *config.Config) remote.Authenticator {
	if cfg.Backend == config.BackendMemory {
		slog.Warn("using in-memory remote, nothing is kept after exit")
		mem := remote.NewMemoryStorage()
		return remote.AuthenticatorFunc(func(context.Context) (remote.Storage, error) {
			return mem, nil
		})
	}
	return &auth.Authenticator{
		CredentialsFile: cfg.CredentialsFile,
		TokenFile:       cfg.TokenFile,
	}
}

// newResolver picks how conflicts are settled: an up-front preference, an
// interactive prompt on a terminal, or leaving them alone.
func newResolver(prefer string) (sync.ConflictResolver, error) {
	switch prefer {
	case "local":
		return sync.FixedResolver{Choice: sync.ResolveKeepLocal}, nil
	case "remote":
		return sync.FixedResolver{Choice: sync.ResolveKeepRemote}, nil
	case "":
	default:
		return nil, fmt.Errorf("invalid --prefer %q, want local or remote", prefer)
	}
	if isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd()) {
		return sync.ResolverFunc(promptConflict), nil
	}
	return sync.SkipResolver{}, nil
}

func openClient(cfg *config.Config, opts ...client.Option) (*client.Client, error) {
	c := client.New(cfg, newAuthenticator(cfg), opts...)
	if err := c.Open(); err != nil {
		return nil, err
	}
	return c, nil
}
