// Package manifest models the build-time resource manifest of a deployed web
// application: a table of logical resource keys (URL paths relative to the
// deploying origin, plus the root key "/") to content fingerprints, and the
// core shell subset that must be staged before the offline cache is usable.
// It also owns the URL ↔ key mapping shared by the request router and the
// upgrade coordinator, so both agree on which cache entry a URL refers to.
package manifest
