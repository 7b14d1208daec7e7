// Package graph is the relationship extension: named, directed edges
// between records, with delete rules applied when a transaction commits.
//
// Application code adds and removes edges through a Tx obtained with For.
// Nothing touches the persisted edge table until commit. Each Tx keeps a
// Delta of the transaction's object and edge changes; queries read the
// working view (persisted edges with the delta applied on top), which is
// also exactly what the resolver evaluates.
//
// # Commit sequence
//
// PrepareCommit runs the resolver once per read-write transaction:
//
//  1. Seed R with the records removed in this transaction.
//  2. Build the working edge view: (persisted + added) - removed.
//  3. Pop nodes from a frontier seeded with R, adding the far endpoint of
//     every rule-bearing edge to R (and the frontier) unless already present.
//  4. Delete records in R that still exist, prune every edge touching R,
//     apply explicit edge removals, and insert the surviving added edges.
//
// Membership in R guards the frontier, so each node is processed once and
// cyclic graphs terminate. Rules only ever add to R, so the result does not
// depend on frontier order; FIFO and LIFO orders are both supported.
package graph
