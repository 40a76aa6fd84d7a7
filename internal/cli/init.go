package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/metavault/internal/blobstore"
	"github.com/roach88/metavault/internal/config"
	"github.com/roach88/metavault/internal/keys"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	NoRemote bool
	Force    bool
}

// InitResult is the output of the init command.
type InitResult struct {
	ConfigPath string `json:"config_path"`
	KeyFile    string `json:"key_file"`
	KeyCreated bool   `json:"key_created"`
	DataDir    string `json:"data_dir"`
	RemoteDB   string `json:"remote_db,omitempty"`
	DeviceID   string `json:"device_id"`
	WalletID   string `json:"wallet_id"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config, root key and data directory",
		Long: `Create a configuration next to the config path, a fresh root key and
an empty data directory. Read tracking starts now: transactions older
than this moment count as read.

An existing key file is never overwritten.

Examples:
  metavault init
  metavault init --config ./vault/config.yaml --no-remote`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoRemote, "no-remote", false, "disable the remote replica")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing config")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	path, err := configPath(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to locate config", err)
	}
	if _, err := os.Stat(path); err == nil && !opts.Force {
		return NewExitError(ExitCommandError, fmt.Sprintf("config already exists at %s (use --force)", path))
	}

	cfg, err := config.Default(filepath.Dir(path))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create config", err)
	}
	// Re-initialising keeps the wallet and device identity so existing
	// fingerprints and remote writer ids stay valid.
	if prev, err := config.Load(path); err == nil {
		cfg.WalletID = prev.WalletID
		cfg.DeviceID = prev.DeviceID
	}
	if opts.NoRemote {
		cfg.RemoteDB = ""
	}
	cfg.ReadTrackingEpoch = time.Now().UTC().Truncate(time.Second)

	created, err := ensureKeyFile(cfg.KeyFile)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create key file", err)
	}
	if _, err := blobstore.OpenDir(cfg.DataDir); err != nil {
		return WrapExitError(ExitFailure, "failed to create data directory", err)
	}
	if err := config.Save(path, cfg); err != nil {
		return WrapExitError(ExitFailure, "failed to save config", err)
	}

	result := InitResult{
		ConfigPath: path,
		KeyFile:    cfg.KeyFile,
		KeyCreated: created,
		DataDir:    cfg.DataDir,
		RemoteDB:   cfg.RemoteDB,
		DeviceID:   cfg.DeviceID,
		WalletID:   cfg.WalletID,
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Wrote %s\n", result.ConfigPath)
		if result.KeyCreated {
			fmt.Fprintf(w, "Generated root key %s\n", result.KeyFile)
		} else {
			fmt.Fprintf(w, "Kept existing root key %s\n", result.KeyFile)
		}
		fmt.Fprintf(w, "Device %s\n", result.DeviceID)
	})
}

// ensureKeyFile generates a root key at path unless one exists.
func ensureKeyFile(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	root, err := keys.GenerateRoot()
	if err != nil {
		return false, err
	}
	if err := writeKeyFile(path, keys.FormatKeyFile(root)); err != nil {
		return false, err
	}
	return true, nil
}

// writeKeyFile atomically writes a key file with owner-only permissions.
func writeKeyFile(path string, data []byte) error {
	dir, err := blobstore.OpenDir(filepath.Dir(path))
	if err != nil {
		return err
	}
	return dir.Write(filepath.Base(path), data)
}

// NewKeysCommand creates the keys command and its subcommands.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage root secrets",
	}
	cmd.AddCommand(newKeysRotateCommand(rootOpts))
	return cmd
}

func newKeysRotateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Generate a new current root secret",
		Long: `Generate a new root secret and make it current. Previous secrets are
kept as retired so metadata written before the rotation stays readable;
it is re-sealed under the new secret the next time it is stored.

Address books are only opened with the current secret. Store them again
before rotating if they must survive.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to locate config", err)
			}
			cfg, err := config.Load(path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}

			data, err := os.ReadFile(cfg.KeyFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read key file", err)
			}
			current, retired, err := keys.ParseKeyFile(data)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to parse key file", err)
			}
			root, err := keys.GenerateRoot()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to generate root", err)
			}
			all := append([][]byte{current}, retired...)
			if err := writeKeyFile(cfg.KeyFile, keys.FormatKeyFile(root, all...)); err != nil {
				return WrapExitError(ExitFailure, "failed to write key file", err)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return formatter.Success(map[string]any{"key_file": cfg.KeyFile, "retired": len(all)}, func(w io.Writer) {
				fmt.Fprintf(w, "Rotated %s (%d retired)\n", cfg.KeyFile, len(all))
			})
		},
	}
}
