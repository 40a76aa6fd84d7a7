package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/roach88/metavault/internal/metastore"
	"github.com/roach88/metavault/internal/model"
)

// ContactView is the rendered form of a contact.
type ContactView struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	ChainID     string    `json:"chain_id,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

func newContactView(c model.Contact) ContactView {
	return ContactView{
		ID:          c.ID(),
		Address:     c.Address,
		Name:        c.Name,
		ChainID:     c.ChainID,
		LastUpdated: c.LastUpdated,
	}
}

// addressBookSession is one account's address book, loaded and ready to mutate.
type addressBookSession struct {
	ws    *workspace
	store *metastore.AddressBookStore
}

func openAddressBook(ctx context.Context, opts *RootOptions, cmd *cobra.Command, account string) (*addressBookSession, error) {
	ws, err := openWorkspace(opts, cmd)
	if err != nil {
		return nil, err
	}
	s, err := ws.addressBookStore(account)
	if err != nil {
		ws.Close()
		return nil, err
	}
	loaded, err := s.Load(ctx)
	if err != nil {
		ws.Close()
		return nil, WrapExitError(ExitFailure, "failed to load address book", err)
	}
	ws.formatter().VerboseLog("loaded address book from %s (migrated: %v)", loaded.Source, loaded.Migrated)
	return &addressBookSession{ws: ws, store: s}, nil
}

func (s *addressBookSession) save(ctx context.Context) error {
	if err := s.store.Store(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to store address book", err)
	}
	return nil
}

func (s *addressBookSession) Close() error {
	s.store.Wait()
	return s.ws.Close()
}

// NewContactsCommand creates the contacts command and its subcommands.
func NewContactsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage the address book of an account",
	}
	cmd.AddCommand(newContactsAddCommand(rootOpts))
	cmd.AddCommand(newContactsRemoveCommand(rootOpts))
	cmd.AddCommand(newContactsListCommand(rootOpts))
	return cmd
}

func newContactsAddCommand(rootOpts *RootOptions) *cobra.Command {
	var chain string

	cmd := &cobra.Command{
		Use:   "add <account> <address> <name>",
		Short: "Add or rename a contact",
		Long: `Add a contact, or replace the one with the same address and chain.

Examples:
  metavault contacts add acct-0 zs1abc Alice
  metavault contacts add acct-0 0xabc Bob --chain base`,
		Args: exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openAddressBook(ctx, rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			c := model.Contact{Address: args[1], Name: args[2], ChainID: chain}
			if err := s.store.StoreContact(c); err != nil {
				return WrapExitError(ExitCommandError, "invalid contact", err)
			}
			if err := s.save(ctx); err != nil {
				return err
			}
			stored, _ := s.store.Contact(c.ID())
			view := newContactView(stored)
			return s.ws.formatter().Success(view, func(w io.Writer) {
				fmt.Fprintf(w, "Saved %s (%s)\n", view.Name, view.ID)
			})
		},
	}

	cmd.Flags().StringVar(&chain, "chain", "", "chain id (default: the wallet's own chain)")
	return cmd
}

func newContactsRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <account> <contact-id>",
		Aliases: []string{"remove"},
		Short:   "Remove a contact by id (address-chain)",
		Args:    exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openAddressBook(ctx, rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.store.DeleteContact(args[1]) {
				return NewExitError(ExitFailure, fmt.Sprintf("no contact %q", args[1]))
			}
			if err := s.save(ctx); err != nil {
				return err
			}
			return s.ws.formatter().Success(map[string]any{"removed": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s\n", args[1])
			})
		},
	}
}

func newContactsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list <account>",
		Aliases: []string{"ls"},
		Short:   "List contacts",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openAddressBook(cmd.Context(), rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			contacts := s.store.Contacts()
			sortForDisplay(contacts)
			views := make([]ContactView, 0, len(contacts))
			for _, c := range contacts {
				views = append(views, newContactView(c))
			}
			return s.ws.formatter().Success(views, func(w io.Writer) {
				if len(views) == 0 {
					fmt.Fprintln(w, "No contacts")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tADDRESS\tCHAIN\tID")
				for _, v := range views {
					chain := v.ChainID
					if chain == "" {
						chain = model.DefaultChain
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Name, v.Address, chain, v.ID)
				}
				tw.Flush()
			})
		},
	}
}

// sortForDisplay orders contacts by name the way a reader expects, ignoring
// case and accents, with ties broken by id. Stored names are not changed.
func sortForDisplay(contacts []model.Contact) {
	col := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(contacts, func(i, j int) bool {
		if c := col.CompareString(contacts[i].Name, contacts[j].Name); c != 0 {
			return c < 0
		}
		return contacts[i].ID() < contacts[j].ID()
	})
}
