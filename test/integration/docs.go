// Package integration contains end-to-end tests for the tollbooth authority server.
//
// These tests verify the server handles API requests correctly (expected responses,
// error handling, rollback behavior, etc). Each test runs against an in-process
// server with the in-memory vault and freshly generated signing keys.
//
// These tests assume the certificate, ledger and registry packages are working
// correctly (tested separately). If bugs are introduced in lower-level packages,
// there will be cascading failures here - fix the low-level problems first.
package integration
