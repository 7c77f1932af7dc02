// Package store holds the in-memory state shared between the polling cycles
// and the read API: the incident state machine, recent telemetry per source,
// and a process-lifetime dispatch ledger.
//
// Every mutation takes the store's write lock for its whole duration, so
// readers observe either the state before a transition or after it. List
// methods copy under the read lock and hand back a sequence over the copy.
package store
