package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/dispatch/engine"
	"github.com/tailored-agentic-units/dispatch/observability"
	"github.com/tailored-agentic-units/dispatch/rpc"
	"github.com/tailored-agentic-units/dispatch/specialist"
)

//go:embed catalog.yaml
var defaultCatalog []byte

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// options carries the persistent flags shared by every command.
type options struct {
	configFile string
	envFile    string
	verbose    bool

	obs observability.Observer
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "dispatch",
		Short:        "Route conversations between a primary assistant and approval-gated specialists",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.loadEnv()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Path to config file (JSON or YAML)")
	flags.StringVar(&opts.envFile, "env-file", "", "Path to a .env file (default: ./.env when present)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging to stderr")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newStateCmd(opts),
		newSpecialistsCmd(opts),
	)
	return root
}

func (o *options) loadEnv() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func (o *options) config() (*engine.Config, error) {
	if o.configFile == "" {
		cfg := engine.DefaultConfig()
		return &cfg, nil
	}

	cfg, err := engine.LoadConfig(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// observer writes events to stderr, and also to the observer named in cfg
// unless that is "slog", the process logger the stderr stream stands in for.
func (o *options) observer(cfg *engine.Config) (observability.Observer, error) {
	if o.obs != nil {
		return o.obs, nil
	}

	level := observability.LevelWarning
	if o.verbose {
		level = observability.LevelVerbose
	}
	stderr := observability.NewTextObserver(os.Stderr, level)

	var named observability.Observer
	if cfg.Observer != "" && cfg.Observer != "slog" {
		obs, err := observability.GetObserver(cfg.Observer)
		if err != nil {
			return nil, fmt.Errorf("failed to create observer: %w", err)
		}
		named = obs
	}

	o.obs = observability.Join(stderr, named)
	return o.obs, nil
}

func (o *options) specialists(cfg *engine.Config) (*specialist.Set, error) {
	var (
		cat *specialist.Catalog
		err error
	)
	if cfg.Catalog == "" {
		cat, err = specialist.ParseCatalog(defaultCatalog)
	} else {
		cat, err = specialist.LoadCatalog(cfg.Catalog)
	}
	if err != nil {
		return nil, err
	}

	obs, err := o.observer(cfg)
	if err != nil {
		return nil, err
	}
	return specialist.Build(cat, storyToolbox(), obs)
}

func (o *options) engine() (*engine.Engine, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}

	set, err := o.specialists(cfg)
	if err != nil {
		return nil, err
	}

	obs, err := o.observer(cfg)
	if err != nil {
		return nil, err
	}

	e, err := engine.New(cfg, engine.WithSpecialists(set), engine.WithObserver(obs))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return e, nil
}

// dispatcher returns a client for server, or an in-process engine when
// server is empty. Callers release it with closeDispatcher.
func (o *options) dispatcher(server string) (rpc.Dispatcher, error) {
	if server != "" {
		return rpc.NewClient(http.DefaultClient, server), nil
	}
	return o.engine()
}

func closeDispatcher(d rpc.Dispatcher) {
	if c, ok := d.(io.Closer); ok {
		c.Close()
	}
}
