// Package panel serves the keymapd status dashboard.
//
// The dashboard is a single static page embedded into the binary. It reads
// the supervisor status over the API WebSocket and issues lifecycle
// commands over HTTP, so it needs nothing from the server beyond files.
//
// Paths without a file extension fall back to index.html, which keeps
// bookmarked hash routes working. Missing assets are a plain 404.
package panel
