// Package store persists wallet state.
//
// Two implementations of wallet.Store are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package store
