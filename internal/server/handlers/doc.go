// Package handlers provides the HTTP handlers for the tollbooth authority API:
// certificate purchases, operator accounts, the admin treasury surface, and
// general infrastructure endpoints (health, version, jwks, service status).
//
// Handlers take their dependencies as arguments and return http.HandlerFunc
// closures; error responses go through tollbooth.RespondWithErrorResponse so
// every failure uses the standard envelope.
package handlers
