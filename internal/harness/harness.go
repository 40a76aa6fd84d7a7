package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/metavault/internal/blobstore"
	"github.com/roach88/metavault/internal/keys"
	"github.com/roach88/metavault/internal/metaerr"
	"github.com/roach88/metavault/internal/metastore"
	"github.com/roach88/metavault/internal/model"
	"github.com/roach88/metavault/internal/testutil"
)

// DefaultStart is the clock start used when a scenario sets none.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// errRemoteUnavailable is injected by remote_fail steps.
var errRemoteUnavailable = errors.New("remote unavailable")

// Outcomes recorded in the trace.
const (
	OutcomeOK           = "ok"
	OutcomeFailed       = "failed"
	OutcomeBookmarked   = "bookmarked"
	OutcomeUnbookmarked = "unbookmarked"
	OutcomeRemoved      = "removed"
	OutcomeMissing      = "missing"
)

// errorCodeGeneric is the trace error for failures without a metadata code.
const errorCodeGeneric = "ERROR"

// Harness is the scenario execution engine.
// All devices share one clock and one in-memory remote, so runs are
// deterministic and independent of the machine they run on.
type Harness struct {
	account   string
	readEpoch time.Time
	clock     *testutil.Clock
	remote    *testutil.MemoryRemote
	logger    *slog.Logger
	devices   map[string]*device
}

// device is one simulated installation of the wallet.
type device struct {
	name     string
	current  int
	retired  []int
	provider *keys.HKDFProvider
	local    *blobstore.Dir
	metadata *metastore.MetadataStore
	book     *metastore.AddressBookStore
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes store logging to logger. Runs are silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// Run executes a scenario and returns the result.
//
// Each device gets its own local directory under dir. A returned error means
// the scenario could not be set up; step and assertion failures are reported
// in the result.
//
// Execution flow:
// 1. Open a local store and stores for each device
// 2. Execute flow steps with expect validation
// 3. Evaluate assertions against the trace and device state
func Run(ctx context.Context, scenario *Scenario, dir string, opts ...Option) (*Result, error) {
	h, err := newHarness(scenario, dir, opts...)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		event, err := h.execute(ctx, step)
		event.Step = i + 1
		if err != nil {
			event.Error = errorCode(err)
		}
		result.AddTrace(event)

		if step.Expect == nil {
			if err != nil {
				result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Op, err))
			}
			continue
		}
		if step.Expect.Outcome != "" && step.Expect.Outcome != event.Outcome {
			result.AddError(fmt.Sprintf("flow[%d] %s: outcome %q, expected %q", i, step.Op, event.Outcome, step.Expect.Outcome))
		}
		if step.Expect.Error != event.Error {
			result.AddError(fmt.Sprintf("flow[%d] %s: error %q, expected %q", i, step.Op, event.Error, step.Expect.Error))
		}
	}
	h.wait()
	result.State = h.State()

	for _, assertion := range scenario.Assertions {
		if err := h.evaluate(assertion, result.Trace); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func newHarness(scenario *Scenario, dir string, opts ...Option) (*Harness, error) {
	start := scenario.Start
	if start.IsZero() {
		start = DefaultStart
	}
	h := &Harness{
		account:   scenario.Account,
		readEpoch: scenario.ReadEpoch,
		clock:     testutil.NewClock(start),
		remote:    testutil.NewMemoryRemote(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		devices:   make(map[string]*device, len(scenario.Devices)),
	}
	for _, opt := range opts {
		opt(h)
	}

	for _, d := range scenario.Devices {
		local, err := blobstore.OpenDir(filepath.Join(dir, d.Name), blobstore.WithDirLogger(h.logger))
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
		dev := &device{
			name:    d.Name,
			current: d.Key,
			retired: append([]int(nil), d.Retired...),
			local:   local,
		}
		if err := h.open(dev); err != nil {
			return nil, err
		}
		h.devices[d.Name] = dev
	}
	return h, nil
}

// open builds the device's provider and stores from its key settings.
// Any cached state is discarded.
func (h *Harness) open(dev *device) error {
	retired := make([][]byte, 0, len(dev.retired))
	for _, r := range dev.retired {
		retired = append(retired, testutil.Root(byte(r)))
	}
	provider, err := keys.NewHKDFProvider(testutil.TestWallet, testutil.Root(byte(dev.current)), retired...)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev.name, err)
	}

	opts := []metastore.Option{
		metastore.WithLogger(h.logger.With("device", dev.name)),
		metastore.WithClock(h.clock.Now),
		metastore.WithReadTrackingEpoch(h.readEpoch),
	}
	metadata, err := metastore.NewMetadataStore(h.account, provider, dev.local, h.remote, opts...)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev.name, err)
	}
	book, err := metastore.NewAddressBookStore(h.account, provider, dev.local, h.remote, opts...)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev.name, err)
	}

	dev.provider = provider
	dev.metadata = metadata
	dev.book = book
	return nil
}

// execute runs one step and returns its trace event.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	event := TraceEvent{Device: step.Device, Op: step.Op, Outcome: OutcomeOK}

	switch step.Op {
	case OpRemoteFail:
		h.remote.Fail(step.Remote, errRemoteUnavailable)
		return event, nil
	case OpRemoteHeal:
		h.remote.Fail(step.Remote, nil)
		return event, nil
	case OpAdvance:
		h.clock.Advance(time.Duration(step.Duration))
		return event, nil
	}

	dev := h.devices[step.Device]
	switch step.Op {
	case OpStore, OpLoad, OpReset, OpResetAccount, OpCorruptLocal:
		event.Kind = kindOf(step)
	}

	var err error
	switch step.Op {
	case OpBookmark:
		event.Outcome = OutcomeUnbookmarked
		if dev.metadata.ToggleBookmark(step.Tx) {
			event.Outcome = OutcomeBookmarked
		}
	case OpAnnotate:
		dev.metadata.AddAnnotation(step.Tx, step.Text)
	case OpUnannotate:
		dev.metadata.DeleteAnnotation(step.Tx)
	case OpMarkRead:
		dev.metadata.MarkRead(step.Tx)
	case OpSwap:
		dev.metadata.RecordSwap(step.Tx, step.Provider)
	case OpAsset:
		dev.metadata.PushRecentAsset(step.Asset)
	case OpAddContact:
		err = dev.book.StoreContact(model.Contact{Address: step.Address, Name: step.Name, ChainID: step.Chain})
	case OpRemoveContact:
		event.Outcome = OutcomeMissing
		if dev.book.DeleteContact(model.Contact{Address: step.Address, ChainID: step.Chain}.ID()) {
			event.Outcome = OutcomeRemoved
		}
	case OpStore:
		err = h.store(ctx, dev, event.Kind)
	case OpLoad:
		event.Outcome, err = h.load(ctx, dev, event.Kind)
	case OpReset:
		if event.Kind == KindAddressBook {
			dev.book.Reset()
		} else {
			dev.metadata.Reset()
		}
	case OpResetAccount:
		if event.Kind == KindAddressBook {
			err = dev.book.ResetAccount(ctx)
		} else {
			err = dev.metadata.ResetAccount(ctx)
		}
	case OpCorruptLocal:
		err = h.corrupt(dev, event.Kind)
	case OpRestart:
		dev.wait()
		err = h.open(dev)
	case OpRotate:
		dev.wait()
		dev.retired = append([]int{dev.current}, dev.retired...)
		dev.current = step.Key
		err = h.open(dev)
	}

	if err != nil && event.Outcome == OutcomeOK {
		event.Outcome = OutcomeFailed
	}
	return event, err
}

func (h *Harness) store(ctx context.Context, dev *device, kind string) error {
	if kind == KindAddressBook {
		return dev.book.Store(ctx)
	}
	return dev.metadata.Store(ctx)
}

// load reloads one store and waits for any write-back so later steps see a
// settled local directory.
func (h *Harness) load(ctx context.Context, dev *device, kind string) (string, error) {
	var (
		loaded metastore.Loaded
		err    error
	)
	if kind == KindAddressBook {
		loaded, err = dev.book.Load(ctx)
		dev.book.Wait()
	} else {
		loaded, err = dev.metadata.Load(ctx)
		dev.metadata.Wait()
	}

	if loaded.Source == "" {
		return OutcomeFailed, err
	}
	outcome := string(loaded.Source)
	if loaded.Migrated {
		outcome += "+migrated"
	}
	return outcome, err
}

// corrupt overwrites the device's local envelope with bytes no key opens.
func (h *Harness) corrupt(dev *device, kind string) error {
	fingerprint, err := dev.provider.Fingerprint(h.account)
	if err != nil {
		return err
	}
	return dev.local.Write(storageName(kind, fingerprint), []byte("corrupted envelope"))
}

func (h *Harness) wait() {
	for _, dev := range h.devices {
		dev.wait()
	}
}

func (d *device) wait() {
	d.metadata.Wait()
	d.book.Wait()
}

// State returns a summary of every device's cached metadata, keyed by device.
func (h *Harness) State() map[string]DeviceState {
	state := make(map[string]DeviceState, len(h.devices))
	for name, dev := range h.devices {
		state[name] = dev.state()
	}
	return state
}

// DeviceState summarizes one device's caches for golden comparison.
type DeviceState struct {
	Bookmarks    []string          `json:"bookmarks,omitempty"`
	Notes        map[string]string `json:"notes,omitempty"`
	Read         []string          `json:"read,omitempty"`
	Swaps        map[string]string `json:"swaps,omitempty"`
	RecentAssets []string          `json:"recent_assets,omitempty"`
	Contacts     []string          `json:"contacts,omitempty"`
}

func (d *device) state() DeviceState {
	var s DeviceState
	account := d.metadata.Snapshot().Account

	for id, b := range account.Bookmarked {
		if b.IsBookmarked {
			s.Bookmarks = append(s.Bookmarks, id)
		}
	}
	sort.Strings(s.Bookmarks)

	for id, a := range account.Annotations {
		if a.Content == nil {
			continue
		}
		if s.Notes == nil {
			s.Notes = map[string]string{}
		}
		s.Notes[id] = *a.Content
	}

	for id := range account.Read {
		s.Read = append(s.Read, id)
	}
	sort.Strings(s.Read)

	for id, sw := range account.Swaps.SwapIDs {
		if s.Swaps == nil {
			s.Swaps = map[string]string{}
		}
		s.Swaps[id] = sw.Provider
	}
	s.RecentAssets = append(s.RecentAssets, account.Swaps.LastUsedAssetHistory...)
	s.Contacts = d.contactIDs()
	return s
}

func (d *device) contactIDs() []string {
	var ids []string
	for _, c := range d.book.Contacts() {
		ids = append(ids, c.ID())
	}
	sort.Strings(ids)
	return ids
}

func kindOf(step Step) string {
	if step.Kind == "" {
		return KindMetadata
	}
	return step.Kind
}

func storageName(kind, fingerprint string) string {
	if kind == KindAddressBook {
		return metastore.KindAddressBook + "-" + fingerprint
	}
	return metastore.KindMetadata + "-" + fingerprint
}

func errorCode(err error) string {
	if code := metaerr.CodeOf(err); code != "" {
		return string(code)
	}
	return errorCodeGeneric
}
