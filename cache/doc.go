// Package cache remembers the last resolved path to each peer.
//
// Entries expire lazily: a lookup that finds an entry older than the
// staleness window deletes it and reports a miss. There is no background
// sweep. Capacity is bounded; the least recently used peer is dropped first.
package cache
