// Package server implements the WebSocket chat relay: the fan-out
// coordinator (Hub), per-connection clients, the HTTP gateway, and the
// supporting configuration, authorization, and metrics plumbing.
//
// The implementation is organized into specialized files for
// configuration, hub coordination, clients, routing, and HTTP handlers
// to keep the codebase maintainable and testable as the project grows.
package server
