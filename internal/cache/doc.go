// Package cache memoizes synthesized audio. AudioCache is the per-session
// cache the playback sequencer consults before every synthesis; Sessions
// retains finished session caches for replay; DiskStore persists raw audio
// across runs.
package cache
