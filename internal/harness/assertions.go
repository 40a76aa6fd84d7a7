package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s", event.Step, event.Device, event.Op)
		if event.Kind != "" {
			fmt.Fprintf(&buf, " %s", event.Kind)
		}
		fmt.Fprintf(&buf, " -> %s", event.Outcome)
		if event.Error != "" {
			fmt.Fprintf(&buf, " (%s)", event.Error)
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// evaluate checks one assertion against the trace and the device caches.
func (h *Harness) evaluate(a Assertion, trace []TraceEvent) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: trace}
	}

	switch a.Type {
	case AssertTraceCount:
		return assertTraceCount(trace, a)

	case AssertRemoteBlob:
		name, err := h.remoteName(kindOf(Step{Kind: a.Kind}))
		if err != nil {
			return err
		}
		_, ok := h.remote.Get(name)
		if ok != want(a) {
			return fail(presence(want(a), name), presence(ok, name))
		}
		return nil
	}

	dev := h.devices[a.Device]
	switch a.Type {
	case AssertBookmarked:
		got := dev.metadata.IsBookmarked(a.Tx)
		if got != want(a) {
			return fail(fmt.Sprintf("%s bookmarked=%t on %s", a.Tx, want(a), a.Device), fmt.Sprintf("bookmarked=%t", got))
		}

	case AssertAnnotation:
		text, ok := dev.metadata.Annotation(a.Tx)
		switch {
		case a.Value == "" && ok:
			return fail(fmt.Sprintf("no annotation on %s", a.Tx), fmt.Sprintf("%q", text))
		case a.Value != "" && (!ok || text != a.Value):
			return fail(fmt.Sprintf("annotation %q on %s", a.Value, a.Tx), fmt.Sprintf("%q (present=%t)", text, ok))
		}

	case AssertRecentAssets:
		got := dev.metadata.RecentAssets()
		if !equalStrings(got, a.Values) {
			return fail(fmt.Sprintf("recent assets %v on %s", a.Values, a.Device), fmt.Sprintf("%v", got))
		}

	case AssertContacts:
		got := dev.contactIDs()
		if !equalStrings(got, a.Values) {
			return fail(fmt.Sprintf("contacts %v on %s", a.Values, a.Device), fmt.Sprintf("%v", got))
		}

	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
	return nil
}

// assertTraceCount checks that an op appears exactly Count times in the
// trace, optionally restricted to one outcome.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op != a.Op {
			continue
		}
		if a.Outcome != "" && event.Outcome != a.Outcome {
			continue
		}
		count++
	}

	if count != a.Count {
		label := a.Op
		if a.Outcome != "" {
			label += " -> " + a.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s appears %d times", label, a.Count),
			Actual:   fmt.Sprintf("%s appears %d times", label, count),
			Trace:    trace,
		}
	}
	return nil
}

// remoteName returns the remote blob name of kind for the scenario account.
// Fingerprints do not depend on root secrets, so any device will do.
func (h *Harness) remoteName(kind string) (string, error) {
	for _, dev := range h.devices {
		fingerprint, err := dev.provider.Fingerprint(h.account)
		if err != nil {
			return "", err
		}
		return storageName(kind, fingerprint), nil
	}
	return "", fmt.Errorf("no devices")
}

func want(a Assertion) bool {
	return a.Want == nil || *a.Want
}

func presence(ok bool, name string) string {
	if ok {
		return name + " present"
	}
	return name + " absent"
}

// equalStrings treats nil and empty as equal.
func equalStrings(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return slices.Equal(a, b)
}
