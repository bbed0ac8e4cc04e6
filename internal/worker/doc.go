// Package worker implements the offline cache lifecycle for one deployed web
// application: install stages the core shell into the temp container,
// activate diffs the new manifest against the persisted one and migrates the
// live content container, and the offline prefetcher fills in whatever the
// manifest lists but content still lacks. Lifecycle operations are serialized
// by the Worker; request serving reads the active manifest concurrently.
//
// A failed activate is not rolled back piecemeal: all three containers are
// deleted so the next cycle starts from an empty cache, and serving degrades
// to plain network fetches until then.
package worker
