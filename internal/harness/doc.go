// Package harness runs scripted scenarios against the reactive-state engine.
//
// A scenario wraps an initial state, performs reads and writes, steps
// frames and asserts on the notifications observers received and on the
// final state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: deep_write
//	description: "A nested write notifies the root"
//	state:
//	  cart:
//	    items: []
//	    total: 0
//	steps:
//	  - observe: root
//	  - capture: cart
//	    path: cart
//	  - set: $cart.total
//	    value: 1
//	  - frame: 1
//	assertions:
//	  - type: notify_count
//	    observer: root
//	    count: 1
//	  - type: final_state
//	    path: cart.total
//	    expect: 1
//
// Paths are dot separated. List elements are addressed by index
// ("cart.items.0.sku"). A path starting with "$name" starts at the object
// captured under that name. The empty path is the root.
//
// # Steps
//
//   - observe: register a named observer on the object at path (root if empty)
//   - unobserve: remove a named observer
//   - read: read the value at a path, optionally comparing it with expect
//   - set: write value at a path
//   - delete: remove the record field at a path
//   - append: append values to the list at a path
//   - capture: name the object at path for later "$name" paths
//   - sync: run nested steps as one explicit batch
//   - frame: run that many frame passes
//
// # Assertion Types
//
//   - notify_count: an observer was called exactly count times
//   - notify_order: observers were first notified in the given order
//   - notify_modes: the flush modes an observer saw, in order
//   - final_state: the value at path equals expect
//   - schema: the value at path satisfies a CUE constraint
//   - revision_changed: whether the object at path was flushed during the run
//
// # Deterministic Testing
//
// Every run gets a fresh runtime, a deterministic trace clock and, by
// default, manually stepped frames, so a scenario produces the same trace on
// every run. RunWithGolden compares that trace with testdata/golden.
package harness
