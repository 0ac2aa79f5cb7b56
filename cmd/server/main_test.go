package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FlagsAndEnvOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\nstore:\n  driver: file\n"), 0644))

	t.Setenv("COLLAB_SERVER_HOST", "0.0.0.0")
	fs := pflag.NewFlagSet("collabd", pflag.ContinueOnError)
	v := newViper()
	bindOverrides(fs, v)
	require.NoError(t, fs.Parse([]string{"--store-driver", "memory", "--processor-idle-timeout", "1m"}))

	cfg, err := loadConfig(path, v)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, "memory", cfg.Store.Driver)
	require.Equal(t, time.Minute, cfg.Processor.IdleTimeout)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("collabd", pflag.ContinueOnError)
	v := newViper()
	bindOverrides(fs, v)
	require.NoError(t, fs.Parse(nil))

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), v)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_RejectsInvalidOverride(t *testing.T) {
	fs := pflag.NewFlagSet("collabd", pflag.ContinueOnError)
	v := newViper()
	bindOverrides(fs, v)
	require.NoError(t, fs.Parse([]string{"--auth-required", "true"}))

	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), v)
	require.Error(t, err, "auth.required without a secret")
}
