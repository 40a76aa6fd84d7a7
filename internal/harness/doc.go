// Package harness runs replication scenarios against the metadata stores.
//
// A scenario simulates several devices of one wallet. Each device has its own
// local directory and root secrets; all devices share an in-memory remote and
// a frozen clock, so every run produces the same trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	account: "0xabc"
//	devices:
//	  - name: phone
//	    key: 1
//	  - name: laptop
//	    key: 1
//	flow:
//	  - device: phone
//	    op: bookmark
//	    tx: tx1
//	  - device: phone
//	    op: store
//	  - device: laptop
//	    op: load
//	    expect:
//	      outcome: remote
//	assertions:
//	  - type: bookmarked
//	    device: laptop
//	    tx: tx1
//
// Unknown fields are rejected, so a misspelt key fails to load instead of
// being ignored.
//
// # Operations
//
// Mutations: bookmark, annotate, unannotate, mark_read, swap, asset,
// add_contact, remove_contact. Persistence: store, load, reset,
// reset_account, corrupt_local. Device lifecycle: restart, rotate.
// Environment: remote_fail, remote_heal, advance.
//
// A load step's outcome is the source of the loaded value (local, remote or
// empty), suffixed with "+migrated" when the stored schema was older.
//
// # Golden Files
//
// RunWithGolden compares the trace and the final state of every device with
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
