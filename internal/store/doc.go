// Package store is the SQLite record store backend.
//
// It holds two tables:
//   - records: collection/key/value rows; a node exists iff its row exists
//   - edges: the persisted edge table, indexed by source, destination, and name
//
// # Transactions
//
// Writes go through a pool of exactly one connection opened with
// _txlock=immediate, so the write lock is taken at BEGIN. File databases
// get a second, query-only pool for read transactions; in WAL mode each
// read transaction sees the database as of its first read, unaffected by
// the writer. In-memory databases share the writer connection, so a read
// transaction waits for the current writer to finish.
//
// # Deterministic results
//
// Every multi-row query orders with COLLATE BINARY: keys by key, edges by id.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
