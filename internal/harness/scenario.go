package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a replication scenario.
// A scenario drives one account on several devices that share a remote
// replica, then asserts on the resulting trace and device state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Account is the account every device operates on.
	Account string `yaml:"account"`

	// Start is the initial clock time. Defaults to DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// ReadEpoch is passed to every metadata store as the read tracking epoch.
	ReadEpoch time.Time `yaml:"read_epoch,omitempty"`

	// Devices lists the simulated devices. Each has its own local store.
	Devices []Device `yaml:"devices"`

	// Flow contains the steps, executed in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Device describes one simulated device.
type Device struct {
	Name string `yaml:"name"`

	// Key is the fill byte (1-255) of the current root secret.
	Key int `yaml:"key"`

	// Retired lists fill bytes of retired root secrets.
	Retired []int `yaml:"retired,omitempty"`
}

// Step is a single operation on one device.
type Step struct {
	// Device names the device. Optional for clock and remote steps.
	Device string `yaml:"device,omitempty"`

	// Op is the operation, one of the Op constants.
	Op string `yaml:"op"`

	// Kind selects the store for store, load, reset and corrupt steps.
	// Defaults to metadata.
	Kind string `yaml:"kind,omitempty"`

	Tx       string   `yaml:"tx,omitempty"`
	Text     string   `yaml:"text,omitempty"`
	Provider string   `yaml:"provider,omitempty"`
	Asset    string   `yaml:"asset,omitempty"`
	Address  string   `yaml:"address,omitempty"`
	Name     string   `yaml:"name,omitempty"`
	Chain    string   `yaml:"chain,omitempty"`
	Key      int      `yaml:"key,omitempty"`
	Remote   string   `yaml:"remote,omitempty"`
	Duration Duration `yaml:"duration,omitempty"`

	// Expect validates the step outcome. If nil, no validation is performed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Outcome is the expected outcome string, e.g. "remote" for a load.
	Outcome string `yaml:"outcome,omitempty"`

	// Error is the expected error code. Empty means no error.
	Error string `yaml:"error,omitempty"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses strings like "90s" or "1h".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Step operations.
const (
	OpBookmark      = "bookmark"
	OpAnnotate      = "annotate"
	OpUnannotate    = "unannotate"
	OpMarkRead      = "mark_read"
	OpSwap          = "swap"
	OpAsset         = "asset"
	OpAddContact    = "add_contact"
	OpRemoveContact = "remove_contact"
	OpStore         = "store"
	OpLoad          = "load"
	OpReset         = "reset"
	OpResetAccount  = "reset_account"
	OpCorruptLocal  = "corrupt_local"
	OpRestart       = "restart"
	OpRotate        = "rotate"
	OpRemoteFail    = "remote_fail"
	OpRemoteHeal    = "remote_heal"
	OpAdvance       = "advance"
)

// Store kinds selectable by Step.Kind.
const (
	KindMetadata    = "metadata"
	KindAddressBook = "addressbook"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "bookmarked": Device has (or lacks, with want: false) a bookmark on Tx
	// - "annotation": Device's annotation on Tx equals Value; empty Value means none
	// - "recent_assets": Device's recent assets equal Values, most recent first
	// - "contacts": Device's contact ids equal Values, sorted
	// - "remote_blob": The remote holds (or lacks) the blob of Kind
	// - "trace_count": Op appears Count times in the trace, optionally with Outcome
	Type string `yaml:"type"`

	Device  string   `yaml:"device,omitempty"`
	Kind    string   `yaml:"kind,omitempty"`
	Tx      string   `yaml:"tx,omitempty"`
	Op      string   `yaml:"op,omitempty"`
	Outcome string   `yaml:"outcome,omitempty"`
	Value   string   `yaml:"value,omitempty"`
	Values  []string `yaml:"values,omitempty"`
	Want    *bool    `yaml:"want,omitempty"`
	Count   int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertBookmarked   = "bookmarked"
	AssertAnnotation   = "annotation"
	AssertRecentAssets = "recent_assets"
	AssertContacts     = "contacts"
	AssertRemoteBlob   = "remote_blob"
	AssertTraceCount   = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Account == "" {
		return fmt.Errorf("account is required")
	}
	if len(s.Devices) == 0 {
		return fmt.Errorf("devices list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	devices := make(map[string]bool, len(s.Devices))
	for i, d := range s.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
		if devices[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate device %q", i, d.Name)
		}
		if !validKey(d.Key) {
			return fmt.Errorf("devices[%d]: key must be 1-255", i)
		}
		for _, r := range d.Retired {
			if !validKey(r) {
				return fmt.Errorf("devices[%d]: retired key must be 1-255", i)
			}
		}
		devices[d.Name] = true
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step, devices); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, devices); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single flow step based on its op.
func validateStep(index int, step *Step, devices map[string]bool) error {
	switch step.Op {
	case OpRemoteFail, OpRemoteHeal:
		switch step.Remote {
		case "load", "store", "remove":
		default:
			return fmt.Errorf("flow[%d]: remote must be load, store or remove for %s", index, step.Op)
		}
		return nil
	case OpAdvance:
		if step.Duration <= 0 {
			return fmt.Errorf("flow[%d]: duration is required for advance", index)
		}
		return nil
	case OpBookmark, OpAnnotate, OpUnannotate, OpMarkRead, OpSwap:
		if step.Tx == "" {
			return fmt.Errorf("flow[%d]: tx is required for %s", index, step.Op)
		}
	case OpAsset:
		if step.Asset == "" {
			return fmt.Errorf("flow[%d]: asset is required for asset", index)
		}
	case OpAddContact, OpRemoveContact:
		if step.Address == "" {
			return fmt.Errorf("flow[%d]: address is required for %s", index, step.Op)
		}
	case OpRotate:
		if !validKey(step.Key) {
			return fmt.Errorf("flow[%d]: key must be 1-255 for rotate", index)
		}
	case OpStore, OpLoad, OpReset, OpResetAccount, OpCorruptLocal, OpRestart:
	case "":
		return fmt.Errorf("flow[%d]: op is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", index, step.Op)
	}

	if !devices[step.Device] {
		return fmt.Errorf("flow[%d]: unknown device %q", index, step.Device)
	}
	switch step.Kind {
	case "", KindMetadata, KindAddressBook:
	default:
		return fmt.Errorf("flow[%d]: unknown kind %q", index, step.Kind)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, devices map[string]bool) error {
	switch a.Type {
	case AssertBookmarked, AssertAnnotation:
		if a.Tx == "" {
			return fmt.Errorf("assertions[%d]: tx is required for %s", index, a.Type)
		}
	case AssertRecentAssets, AssertContacts:
	case AssertRemoteBlob:
		switch a.Kind {
		case "", KindMetadata, KindAddressBook:
			return nil
		}
		return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
		return nil
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if !devices[a.Device] {
		return fmt.Errorf("assertions[%d]: unknown device %q", index, a.Device)
	}
	return nil
}

func validKey(k int) bool {
	return k > 0 && k < 256
}
