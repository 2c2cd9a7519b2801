// Package api provides the HTTP REST API and WebSocket event feed for
// Custody Core.
//
// It exposes the device registry, the custody ledger and the delivery
// notification generator to the surrounding clinic application. All
// routes except /api/v1/health require a JWT issued by that application.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
