// Package harness runs relationship scenarios against a fresh database and
// checks what each commit did.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: author_cascade
//	description: "Removing an author removes the books it owns"
//	backend: sqlite          # sqlite (default) or badger
//	order: fifo              # resolver frontier order, fifo (default) or lifo
//	schema: schema           # optional CUE edge schema dir, relative to the file
//	transactions:
//	  - steps:
//	      - set: Author/a
//	      - set: Book/b
//	        value: { title: "Dune" }
//	      - add_edge:
//	          name: owns
//	          source: Author/a
//	          destination: Book/b
//	          rule: delete_destination_if_source_deleted
//	  - steps:
//	      - remove: Author/a
//	    expect:
//	      deleted: [Author/a, Book/b]
//	      cascaded: [Book/b]
//	assertions:
//	  - type: absent
//	    node: Book/b
//	  - type: edge_count
//	    count: 0
//
// A step does exactly one of set, remove, remove_all, add_edge or
// remove_edge. A step may name the error code it expects; the transaction
// continues afterwards. A transaction with rollback: true is rolled back
// instead of committed.
//
// # Assertion Types
//
//   - exists, absent: a record is or is not stored at node
//   - edge_exists, edge_absent: an edge is or is not persisted; a rule on
//     edge_exists must match the stored rule
//   - edge_count: number of persisted edges, optionally only those named name
//
// # Golden Files
//
// RunWithGolden snapshots each transaction's resolution as canonical JSON
// under testdata/golden. Edges are written as name(Source -> Destination)
// rather than by hash, and every list is sorted, so the snapshot is the
// same on every backend.
package harness
