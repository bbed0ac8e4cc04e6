// Package cache defines the named response containers behind the offline
// cache: a Storage hands out Containers by name (open-or-create), and each
// Container maps request URLs to complete responses. Three backends share the
// same semantics: the disk store (temp file + rename, per-entry locks), a
// SQLite store for single-file deployments, and an in-memory store used for
// ephemeral runs and as the fake in tests. Entries are always copied in and
// out, so no two containers ever share a response value.
package cache
