package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/metavault/internal/blobstore"
	"github.com/roach88/metavault/internal/config"
	"github.com/roach88/metavault/internal/keys"
	"github.com/roach88/metavault/internal/metastore"
	"github.com/roach88/metavault/internal/metrics"
)

// workspace is everything a command needs to reach one wallet's storage.
type workspace struct {
	opts     *RootOptions
	cmd      *cobra.Command
	cfg      *config.Config
	provider keys.Provider
	local    *blobstore.Dir
	remote   *blobstore.SQLiteRemote // nil when replication is disabled
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// configPath resolves the --config flag.
func configPath(opts *RootOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	return config.DefaultPath()
}

// newLogger writes text logs to the command's stderr.
func newLogger(opts *RootOptions, cmd *cobra.Command, level slog.Level) *slog.Logger {
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openWorkspace loads the config and key file and opens both stores.
func openWorkspace(opts *RootOptions, cmd *cobra.Command) (*workspace, error) {
	path, err := configPath(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to locate config", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, WrapExitError(ExitCommandError,
				fmt.Sprintf("no config at %s (run 'metavault init')", path), err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	provider, err := keys.LoadProvider(cfg.KeyFile, cfg.WalletID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load keys", err)
	}

	logger := newLogger(opts, cmd, cfg.SlogLevel())

	local, err := blobstore.OpenDir(cfg.DataDir, blobstore.WithDirLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open data directory", err)
	}

	ws := &workspace{
		opts:     opts,
		cmd:      cmd,
		cfg:      cfg,
		provider: provider,
		local:    local,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	ws.metrics = metrics.New(ws.registry)

	if cfg.RemoteDB != "" {
		remote, err := blobstore.OpenSQLite(cfg.RemoteDB, blobstore.WithWriter(cfg.DeviceID))
		if err != nil {
			// The remote is a replica; run local-only rather than fail.
			logger.Warn("remote unavailable, continuing without replication",
				"path", cfg.RemoteDB, "error", err)
		} else {
			ws.remote = remote
		}
	}
	return ws, nil
}

// remoteStore returns the remote as an interface, or nil when disabled.
func (w *workspace) remoteStore() blobstore.Remote {
	if w.remote == nil {
		return nil
	}
	return w.remote
}

func (w *workspace) storeOptions() []metastore.Option {
	return []metastore.Option{
		metastore.WithLogger(w.logger),
		metastore.WithMetrics(w.metrics),
		metastore.WithRemoteTimeout(w.cfg.RemoteTimeout.Std()),
		metastore.WithReadTrackingEpoch(w.cfg.ReadTrackingEpoch),
	}
}

func (w *workspace) metadataStore(account string) (*metastore.MetadataStore, error) {
	s, err := metastore.NewMetadataStore(account, w.provider, w.local, w.remoteStore(), w.storeOptions()...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open metadata", err)
	}
	return s, nil
}

func (w *workspace) addressBookStore(account string) (*metastore.AddressBookStore, error) {
	s, err := metastore.NewAddressBookStore(account, w.provider, w.local, w.remoteStore(), w.storeOptions()...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open address book", err)
	}
	return s, nil
}

func (w *workspace) formatter() *OutputFormatter {
	return &OutputFormatter{
		Format:    w.opts.Format,
		Writer:    w.cmd.OutOrStdout(),
		ErrWriter: w.cmd.ErrOrStderr(),
		Verbose:   w.opts.Verbose,
	}
}

// Close releases the remote and, with --metrics, prints the metrics.
func (w *workspace) Close() error {
	if w.opts.Metrics {
		if err := w.writeMetrics(); err != nil {
			w.logger.Warn("failed to write metrics", "error", err)
		}
	}
	if w.remote != nil {
		return w.remote.Close()
	}
	return nil
}

func (w *workspace) writeMetrics() error {
	families, err := w.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w.cmd.ErrOrStderr(), mf); err != nil {
			return err
		}
	}
	return nil
}

// exactArgs is cobra.ExactArgs with a command-error exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return WrapExitError(ExitCommandError, "invalid arguments", err)
		}
		return nil
	}
}

// rangeArgs is cobra.RangeArgs with a command-error exit code.
func rangeArgs(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(min, max)(cmd, args); err != nil {
			return WrapExitError(ExitCommandError, "invalid arguments", err)
		}
		return nil
	}
}
