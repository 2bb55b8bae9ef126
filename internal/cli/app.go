package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/clock"
	"github.com/roach88/shiftsync/internal/config"
	"github.com/roach88/shiftsync/internal/ids"
	"github.com/roach88/shiftsync/internal/remote"
	"github.com/roach88/shiftsync/internal/store"
	"github.com/roach88/shiftsync/internal/syncer"
	"github.com/roach88/shiftsync/internal/tracker"
)

// device is everything a device-side command needs, opened from config.
type device struct {
	cfg    config.Config
	store  *store.Store
	sync   *syncer.Coordinator
	svc    *tracker.Service
	out    *OutputFormatter
	logger *slog.Logger
}

// loadConfig reads the config file named by --config and applies --db.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// openDevice loads config, opens the local store and wires the coordinator
// to the configured server. Without a remote URL the device stays offline
// and every change waits in the queue.
func openDevice(opts *RootOptions, cmd *cobra.Command) (*device, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	var (
		rem  syncer.Remote       = unreachable{}
		conn syncer.Connectivity = syncer.NewToggle(false)
	)
	if cfg.Remote.URL != "" {
		client := remote.NewClient(cfg.Remote.URL, cfg.Remote.Token,
			remote.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout}),
			remote.WithPingTimeout(cfg.Remote.PingTimeout),
			remote.WithClientLogger(logger),
		)
		rem, conn = client, client
	}

	clk := clock.System{}
	coord := syncer.New(st, rem, conn,
		syncer.WithLogger(logger),
		syncer.WithClock(clk),
		syncer.WithIDs(ids.NewULID(clk)),
		syncer.WithBatchSize(cfg.Sync.BatchSize),
		syncer.WithConcurrency(cfg.Sync.Concurrency),
		syncer.WithAutoResolve(cfg.Sync.AutoResolve),
	)
	svc := tracker.New(st, coord,
		tracker.WithClock(clk),
		tracker.WithLogger(logger),
	)

	out := newFormatter(opts, cmd)
	out.VerboseLog("database: %s", cfg.Database)
	if cfg.Remote.URL != "" {
		out.VerboseLog("remote: %s", cfg.Remote.URL)
	} else {
		out.VerboseLog("remote: none configured, working offline")
	}

	return &device{
		cfg:    cfg,
		store:  st,
		sync:   coord,
		svc:    svc,
		out:    out,
		logger: logger,
	}, nil
}

func (d *device) Close() {
	if err := d.store.Close(); err != nil {
		d.logger.Error("error closing database", "error", err)
	}
}

// withDevice opens the device, runs fn and closes it again.
func withDevice(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, d *device) error) error {
	d, err := openDevice(opts, cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, d)
}

// unreachable is the remote of a device with no server configured.
type unreachable struct{}

func (unreachable) Get(context.Context, string, string) (json.RawMessage, error) {
	return nil, apperr.Transient("get", syncer.ErrOffline)
}

func (unreachable) Put(context.Context, string, string, json.RawMessage) (json.RawMessage, error) {
	return nil, apperr.Transient("put", syncer.ErrOffline)
}

func (unreachable) Delete(context.Context, string, string) error {
	return apperr.Transient("delete", syncer.ErrOffline)
}

func (unreachable) ListCategories(context.Context) ([]category.TimeCategory, error) {
	return nil, apperr.Transient("list categories", syncer.ErrOffline)
}

// syncLine summarizes a SubmitResult for text output.
func syncLine(r syncer.SubmitResult) string {
	switch {
	case r.Offline:
		return "queued (offline)"
	case r.Queued:
		return "queued"
	default:
		return "synced"
	}
}
