// Package threads tracks which patient owns each live engine thread.
//
// A thread id is minted per consultation start. The registry keeps the
// owner, the consultation row and a completed flag for a bounded lifetime,
// which lets resume requests reject unknown, foreign or finished threads
// before the engine is touched.
//
// Two backends implement Registry:
//
//   - MemoryRegistry: single-process TTL cache bounded by size, oldest first eviction
//   - RedisRegistry: JSON values in Redis with key expiry, for multiple replicas
package threads
