package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/metavault/internal/metastore"
	"github.com/roach88/metavault/internal/model"
)

// metadataSession is one account's metadata, loaded and ready to mutate.
type metadataSession struct {
	ws     *workspace
	store  *metastore.MetadataStore
	loaded metastore.Loaded
}

func openMetadata(ctx context.Context, opts *RootOptions, cmd *cobra.Command, account string) (*metadataSession, error) {
	ws, err := openWorkspace(opts, cmd)
	if err != nil {
		return nil, err
	}
	s, err := ws.metadataStore(account)
	if err != nil {
		ws.Close()
		return nil, err
	}
	loaded, err := s.Load(ctx)
	if err != nil {
		ws.Close()
		return nil, WrapExitError(ExitFailure, "failed to load metadata", err)
	}
	ws.formatter().VerboseLog("loaded metadata from %s (migrated: %v)", loaded.Source, loaded.Migrated)
	return &metadataSession{ws: ws, store: s, loaded: loaded}, nil
}

func (s *metadataSession) save(ctx context.Context) error {
	if err := s.store.Store(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to store metadata", err)
	}
	return nil
}

func (s *metadataSession) Close() error {
	s.store.Wait()
	return s.ws.Close()
}

// NewBookmarkCommand creates the bookmark command.
func NewBookmarkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bookmark <account> <tx-id>",
		Short: "Toggle the bookmark on a transaction",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openMetadata(ctx, rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			on := s.store.ToggleBookmark(args[1])
			if err := s.save(ctx); err != nil {
				return err
			}
			return s.ws.formatter().Success(map[string]any{"tx_id": args[1], "bookmarked": on}, func(w io.Writer) {
				if on {
					fmt.Fprintf(w, "Bookmarked %s\n", args[1])
				} else {
					fmt.Fprintf(w, "Removed bookmark from %s\n", args[1])
				}
			})
		},
	}
}

// NewAnnotateCommand creates the annotate command.
func NewAnnotateCommand(rootOpts *RootOptions) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "annotate <account> <tx-id> [note]",
		Short: "Set or delete the note on a transaction",
		Long: `Set the note on a transaction. An empty note, or --delete,
removes it.

Examples:
  metavault annotate acct-0 9f2c "rent for May"
  metavault annotate acct-0 9f2c --delete`,
		Args: rangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text := ""
			if len(args) == 3 {
				text = args[2]
			}
			if remove && text != "" {
				return NewExitError(ExitCommandError, "--delete takes no note")
			}
			if !remove && len(args) < 3 {
				return NewExitError(ExitCommandError, "a note is required unless --delete is set")
			}

			s, err := openMetadata(ctx, rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			s.store.AddAnnotation(args[1], text)
			if err := s.save(ctx); err != nil {
				return err
			}
			note, ok := s.store.Annotation(args[1])
			return s.ws.formatter().Success(map[string]any{"tx_id": args[1], "note": note, "present": ok}, func(w io.Writer) {
				if ok {
					fmt.Fprintf(w, "Note on %s: %s\n", args[1], note)
				} else {
					fmt.Fprintf(w, "Removed note from %s\n", args[1])
				}
			})
		},
	}

	cmd.Flags().BoolVar(&remove, "delete", false, "delete the note")
	return cmd
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		check bool
		at    string
	)

	cmd := &cobra.Command{
		Use:   "read <account> <tx-id>",
		Short: "Mark a transaction as read, or check whether it is",
		Long: `Mark a transaction as read. With --check, report whether it is
read instead. Transactions older than the read tracking epoch are
always read; pass the transaction time with --at.

Examples:
  metavault read acct-0 9f2c
  metavault read acct-0 9f2c --check --at 2023-06-01T12:00:00Z`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			txTime := time.Now()
			if at != "" {
				if !check {
					return NewExitError(ExitCommandError, "--at requires --check")
				}
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --at", err)
				}
				txTime = t
			}

			s, err := openMetadata(ctx, rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if !check {
				s.store.MarkRead(args[1])
				if err := s.save(ctx); err != nil {
					return err
				}
			}
			read := s.store.IsRead(args[1], txTime)
			return s.ws.formatter().Success(map[string]any{"tx_id": args[1], "read": read}, func(w io.Writer) {
				state := "unread"
				if read {
					state = "read"
				}
				fmt.Fprintf(w, "%s: %s\n", args[1], state)
			})
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "report read state without changing it")
	cmd.Flags().StringVar(&at, "at", "", "transaction time (RFC 3339) for --check")
	return cmd
}

// NewSwapCommand creates the swap command.
func NewSwapCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "swap <account> <tx-id> <provider>",
		Short: "Record the swap provider of a transaction",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if args[1] == "" || args[2] == "" {
				return NewExitError(ExitCommandError, "tx-id and provider must not be empty")
			}
			s, err := openMetadata(ctx, rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			s.store.RecordSwap(args[1], args[2])
			if err := s.save(ctx); err != nil {
				return err
			}
			sw, _ := s.store.Swap(args[1])
			return s.ws.formatter().Success(sw, func(w io.Writer) {
				fmt.Fprintf(w, "%s swapped via %s\n", sw.TxID, sw.Provider)
			})
		},
	}
}

// NewAssetCommand creates the asset command.
func NewAssetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "asset <account> [asset-id]",
		Short: "Record a recently used swap asset, or list them",
		Args:  rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openMetadata(ctx, rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if len(args) == 2 {
				s.store.PushRecentAsset(args[1])
				if err := s.save(ctx); err != nil {
					return err
				}
			}
			assets := s.store.RecentAssets()
			return s.ws.formatter().Success(map[string]any{"recent_assets": assets}, func(w io.Writer) {
				if len(assets) == 0 {
					fmt.Fprintln(w, "No recent assets")
					return
				}
				for i, a := range assets {
					fmt.Fprintf(w, "%2d. %s\n", i+1, a)
				}
			})
		},
	}
}

// MetadataView is the rendered metadata of one account.
type MetadataView struct {
	Account      string            `json:"account"`
	Source       string            `json:"source"`
	Migrated     bool              `json:"migrated"`
	Version      int               `json:"version"`
	LastUpdated  *time.Time        `json:"last_updated,omitempty"`
	Bookmarks    []string          `json:"bookmarks"`
	Notes        map[string]string `json:"notes"`
	Read         []string          `json:"read"`
	Swaps        map[string]string `json:"swaps"`
	RecentAssets []string          `json:"recent_assets"`
}

func newMetadataView(account string, loaded metastore.Loaded, m model.UserMetadata) MetadataView {
	v := MetadataView{
		Account:      account,
		Source:       string(loaded.Source),
		Migrated:     loaded.Migrated,
		Version:      m.Version,
		Bookmarks:    []string{},
		Notes:        map[string]string{},
		Read:         []string{},
		Swaps:        map[string]string{},
		RecentAssets: m.Account.Swaps.LastUsedAssetHistory,
	}
	if !m.LastUpdated.IsZero() {
		t := m.LastUpdated
		v.LastUpdated = &t
	}
	for id, b := range m.Account.Bookmarked {
		if b.IsBookmarked {
			v.Bookmarks = append(v.Bookmarks, id)
		}
	}
	sort.Strings(v.Bookmarks)
	for id, a := range m.Account.Annotations {
		if a.Content != nil {
			v.Notes[id] = *a.Content
		}
	}
	for id := range m.Account.Read {
		v.Read = append(v.Read, id)
	}
	sort.Strings(v.Read)
	for id, s := range m.Account.Swaps.SwapIDs {
		v.Swaps[id] = s.Provider
	}
	return v
}

func (v MetadataView) writeText(w io.Writer) {
	fmt.Fprintf(w, "Account %s (schema %d, from %s)\n", v.Account, v.Version, v.Source)
	if v.LastUpdated != nil {
		fmt.Fprintf(w, "Last updated: %s\n", v.LastUpdated.Format(time.RFC3339))
	}

	fmt.Fprintf(w, "\nBookmarks (%d):\n", len(v.Bookmarks))
	for _, id := range v.Bookmarks {
		fmt.Fprintf(w, "  %s\n", id)
	}

	fmt.Fprintf(w, "\nNotes (%d):\n", len(v.Notes))
	for _, id := range sortedKeys(v.Notes) {
		fmt.Fprintf(w, "  %s: %s\n", id, v.Notes[id])
	}

	fmt.Fprintf(w, "\nRead (%d):\n", len(v.Read))
	for _, id := range v.Read {
		fmt.Fprintf(w, "  %s\n", id)
	}

	fmt.Fprintf(w, "\nSwaps (%d):\n", len(v.Swaps))
	for _, id := range sortedKeys(v.Swaps) {
		fmt.Fprintf(w, "  %s → %s\n", id, v.Swaps[id])
	}

	fmt.Fprintf(w, "\nRecent assets: %v\n", v.RecentAssets)
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <account>",
		Short: "Show the metadata of an account",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openMetadata(cmd.Context(), rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			view := newMetadataView(args[0], s.loaded, s.store.Snapshot())
			return s.ws.formatter().Success(view, view.writeText)
		},
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
