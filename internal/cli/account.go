package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/metavault/internal/blobstore"
	"github.com/roach88/metavault/internal/metastore"
)

// BlobStatus describes where one stored blob exists.
type BlobStatus struct {
	Kind          string     `json:"kind"`
	Name          string     `json:"name"`
	Local         bool       `json:"local"`
	LocalSize     int        `json:"local_size,omitempty"`
	Remote        bool       `json:"remote"`
	RemoteSize    int        `json:"remote_size,omitempty"`
	RemoteWriter  string     `json:"remote_writer,omitempty"`
	RemoteUpdated *time.Time `json:"remote_updated,omitempty"`
}

// StatusResult is the output of the status command.
type StatusResult struct {
	Account     string       `json:"account"`
	Fingerprint string       `json:"fingerprint"`
	Replicated  bool         `json:"replicated"`
	DeviceID    string       `json:"device_id"`
	Blobs       []BlobStatus `json:"blobs"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <account>",
		Short: "Show where an account's encrypted data is stored",
		Long: `Show whether the account's metadata and address book exist locally
and on the remote replica, without decrypting anything.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := openWorkspace(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			fp, err := ws.provider.Fingerprint(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid account", err)
			}
			result := StatusResult{
				Account:     args[0],
				Fingerprint: fp,
				Replicated:  ws.remote != nil,
				DeviceID:    ws.cfg.DeviceID,
			}

			for _, kind := range []string{metastore.KindMetadata, metastore.KindAddressBook} {
				st := BlobStatus{Kind: kind, Name: kind + "-" + fp}

				data, err := ws.local.Read(st.Name)
				switch {
				case err == nil:
					st.Local, st.LocalSize = true, len(data)
				case !errors.Is(err, blobstore.ErrNotFound):
					return WrapExitError(ExitFailure, "failed to read local data", err)
				}

				if ws.remote != nil {
					info, err := ws.remote.Stat(ctx, st.Name)
					switch {
					case err == nil:
						st.Remote, st.RemoteSize, st.RemoteWriter = true, info.Size, info.Writer
						st.RemoteUpdated = &info.UpdatedAt
					case !errors.Is(err, blobstore.ErrNotFound):
						ws.logger.Warn("remote stat failed", "name", st.Name, "error", err)
					}
				}
				result.Blobs = append(result.Blobs, st)
			}

			return ws.formatter().Success(result, func(w io.Writer) {
				fmt.Fprintf(w, "Account %s\nFingerprint %s\n", result.Account, result.Fingerprint)
				for _, b := range result.Blobs {
					fmt.Fprintf(w, "\n%s:\n", b.Kind)
					if b.Local {
						fmt.Fprintf(w, "  local:  %d bytes\n", b.LocalSize)
					} else {
						fmt.Fprintln(w, "  local:  none")
					}
					switch {
					case !result.Replicated:
						fmt.Fprintln(w, "  remote: disabled")
					case b.Remote:
						fmt.Fprintf(w, "  remote: %d bytes, written by %s at %s\n",
							b.RemoteSize, b.RemoteWriter, b.RemoteUpdated.Format(time.RFC3339))
					default:
						fmt.Fprintln(w, "  remote: none")
					}
				}
			})
		},
	}
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset <account>",
		Short: "Delete an account's metadata and address book",
		Long: `Delete the account's metadata and address book from this device and,
best effort, from the remote replica. This cannot be undone.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to reset without --yes")
			}
			ctx := cmd.Context()
			ws, err := openWorkspace(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			md, err := ws.metadataStore(args[0])
			if err != nil {
				return err
			}
			if err := md.ResetAccount(ctx); err != nil {
				return WrapExitError(ExitFailure, "failed to reset metadata", err)
			}
			ab, err := ws.addressBookStore(args[0])
			if err != nil {
				return err
			}
			if err := ab.ResetAccount(ctx); err != nil {
				return WrapExitError(ExitFailure, "failed to reset address book", err)
			}

			return ws.formatter().Success(map[string]any{"reset": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Reset %s\n", args[0])
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}
