package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openmined/gdmirror/internal/config"
	"github.com/openmined/gdmirror/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flag name -> settings key
var configFlags = map[string]string{
	"local-root":  "local_root",
	"remote-root": "remote_root",
	"remote":      "backend",
	"log-file":    "log_file",
}

// loadConfig merges, lowest first: defaults, the settings file, GDMIRROR_*
// environment variables and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	configPath, _ := cmd.Flags().GetString("config")
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	def := config.Default()
	v.SetDefault("local_root", def.LocalRoot)
	v.SetDefault("remote_root", def.RemoteRoot)
	v.SetDefault("remote_root_id", "")
	v.SetDefault("backend", def.Backend)
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("credentials_file", def.CredentialsFile)
	v.SetDefault("token_file", def.TokenFile)
	v.SetDefault("ignore_paths", def.IgnorePaths)
	v.SetDefault("last_change_token", "")
	v.SetDefault("log_file", def.LogFile)

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
		slog.Debug("no settings file", "path", configPath)
	}

	v.SetEnvPrefix("GDMIRROR")
	v.AutomaticEnv()
	for flag, key := range configFlags {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	cfg := &config.Config{
		LocalRoot:       v.GetString("local_root"),
		RemoteRoot:      v.GetString("remote_root"),
		RemoteRootID:    v.GetString("remote_root_id"),
		Backend:         v.GetString("backend"),
		DBPath:          v.GetString("db_path"),
		CredentialsFile: v.GetString("credentials_file"),
		TokenFile:       v.GetString("token_file"),
		IgnorePaths:     v.GetStringSlice("ignore_paths"),
		LastChangeToken: v.GetString("last_change_token"),
		LogFile:         v.GetString("log_file"),
		Path:            configPath,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// prepare loads the settings and installs the loggers. The returned func
// must be called when the command ends.
func prepare(cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	levelName, _ := cmd.Flags().GetString("log-level")
	closeLog, err := setupLogging(utils.ParseLevel(levelName), cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("settings", "path", cfg.Path, "local", cfg.LocalRoot, "remote", cfg.RemoteRoot, "backend", cfg.Backend)
	return cfg, closeLog, nil
}
