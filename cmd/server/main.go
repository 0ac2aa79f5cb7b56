package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/modelsync/collab/internal/config"
	"github.com/modelsync/collab/internal/handlers"
	"github.com/modelsync/collab/internal/processor"
	"github.com/modelsync/collab/internal/render"
	"github.com/modelsync/collab/internal/store"
	"github.com/modelsync/collab/internal/tracing"
	"github.com/modelsync/collab/internal/ws"
)

const shutdownTimeout = 15 * time.Second

var version = "dev"

// overrides maps viper keys to the config fields they replace. Each key is
// also a flag (dots become dashes) and a COLLAB_ environment variable.
var overrides = []struct {
	key   string
	usage string
	apply func(cfg *config.Config, v *viper.Viper, key string)
}{
	{"server.host", "listen host", func(c *config.Config, v *viper.Viper, k string) { c.Server.Host = v.GetString(k) }},
	{"server.port", "listen port", func(c *config.Config, v *viper.Viper, k string) { c.Server.Port = v.GetInt(k) }},
	{"server.max_connections", "maximum concurrent connections (0 = unlimited)", func(c *config.Config, v *viper.Viper, k string) {
		c.Server.MaxConnections = v.GetInt(k)
	}},
	{"auth.jwt_secret", "HMAC secret for connection_init tokens", func(c *config.Config, v *viper.Viper, k string) { c.Auth.JWTSecret = v.GetString(k) }},
	{"auth.required", "reject connections without a token", func(c *config.Config, v *viper.Viper, k string) { c.Auth.Required = v.GetBool(k) }},
	{"processor.workers", "concurrent render and handler work (0 = logical CPUs)", func(c *config.Config, v *viper.Viper, k string) {
		c.Processor.Workers = v.GetInt(k)
	}},
	{"processor.idle_timeout", "how long unreferenced projects stay loaded", func(c *config.Config, v *viper.Viper, k string) {
		c.Processor.IdleTimeout = v.GetDuration(k)
	}},
	{"processor.persist_on_submit", "persist after every successful mutation", func(c *config.Config, v *viper.Viper, k string) {
		c.Processor.PersistOnSubmit = v.GetBool(k)
	}},
	{"store.driver", "model store: memory, file or sqlite", func(c *config.Config, v *viper.Viper, k string) { c.Store.Driver = v.GetString(k) }},
	{"store.path", "directory (file) or database (sqlite)", func(c *config.Config, v *viper.Viper, k string) { c.Store.Path = v.GetString(k) }},
	{"tracing.exporter", "trace exporter: none, stdout or otlp", func(c *config.Config, v *viper.Viper, k string) {
		c.Tracing.Exporter = v.GetString(k)
		c.Tracing.Enabled = c.Tracing.Exporter != tracing.ExporterNone
	}},
}

func flagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func bindOverrides(fs *pflag.FlagSet, v *viper.Viper) {
	for _, o := range overrides {
		fs.String(flagName(o.key), "", o.usage)
		_ = v.BindPFlag(o.key, fs.Lookup(flagName(o.key)))
	}
}

func newRootCmd() *cobra.Command {
	v := newViper()
	var configPath string
	cmd := &cobra.Command{
		Use:           "collabd",
		Short:         "Real-time collaboration server for shared models",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	bindOverrides(cmd.Flags(), v)
	return cmd
}

// loadConfig reads the YAML file, then applies flags and environment
// variables on top.
func loadConfig(path string, v *viper.Viper) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	base := *cfg

	for _, o := range overrides {
		if v.IsSet(o.key) && v.GetString(o.key) != "" {
			o.apply(cfg, v, o.key)
		}
	}
	for _, change := range config.Diff(&base, cfg) {
		glog.Infof("config override %s", change)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	models, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := models.Close(); err != nil {
			glog.Warningf("closing store: %v", err)
		}
	}()

	tp, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}

	registry := processor.NewRegistry(models, render.New(nil), handlers.New(nil), processor.Options{
		Workers:          cfg.Processor.Workers,
		IdleTimeout:      cfg.Processor.IdleTimeout,
		EvictionInterval: cfg.Processor.EvictionInterval,
		PersistOnSubmit:  cfg.Processor.PersistOnSubmit,
		SubscriberBuffer: cfg.Processor.SubscriberBuffer,
		Tracer:           tp.Tracer(),
	})
	server := ws.NewServer(cfg, registry)
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("collabd %s listening on %s (store=%s auth=%t)", version, cfg.Addr(), cfg.Store.Driver, cfg.AuthEnabled())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		glog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("sessions: %w", err))
		}
		if err := registry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("projects: %w", err))
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func main() {
	// glog registers -v, -logtostderr and friends on the standard flag set;
	// cobra picks them up from pflag.CommandLine.
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	defer glog.Flush()

	if err := newRootCmd().Execute(); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
