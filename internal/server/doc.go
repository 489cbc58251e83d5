// Package server provides the HTTP server for the tollbooth authority.
//
// the server is configured through environment variables
// (see internal/config/config.go for details)
//
// Routes:
//   - /api/v1 - the certification API (operators, certificates, membership)
//   - /api/v1/admin - treasury operations, gated by the X-Authority-Npub header
//   - common infrastructure endpoints (health, version, jwks, service status)
//
// middleware is in internal/server/middleware
package server
