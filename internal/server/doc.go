// Package server hosts the Fiber HTTP service and its request middleware
// chain. NewApp attaches panic recovery and request IDs, then hands every
// request outside the /-/ diagnostics prefix to the injected ProxyHandler.
// Control and diagnostics endpoints live in the routes subpackage so this
// package stays free of worker and metrics dependencies.
package server
