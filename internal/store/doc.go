// Package store is the record store engine: typed-agnostic CRUD over the named
// collections of the shared SQLite database.
//
// Every record is a JSON object keyed by a string id inside its collection.
// Collections flagged auto_increment allocate decimal ids from a per-collection
// sequence when the caller leaves the id empty. Collections with a key_field
// keep a unique secondary key (config key, stat key, history date) derived from
// that field of the record.
//
// Mutations are published as data_changed messages on the broadcast bus after
// the write commits. Writes from different processes are not coordinated beyond
// that notification: the last writer wins.
package store
