// Package api provides the daemon's HTTP REST API and WebSocket stream.
//
// Every lifecycle command goes through the supervisor, so the API never
// touches the engine, the configuration file or the ownership registry
// directly. Status changes are pushed to WebSocket clients subscribed to
// the "supervisor.status" channel.
//
// The server follows the same lifecycle as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
