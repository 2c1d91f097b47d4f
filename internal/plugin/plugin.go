// Package plugin manages the optional background components of the
// server: the status poller, the MQTT bridge and network discovery.
package plugin

import (
	"context"
	"net/http"
)

// Route is an HTTP route exposed by a plugin. Path is relative to
// /api/v1/<plugin name>.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Plugin is a component with a background lifecycle.
type Plugin interface {
	// Name is the unique identifier, also used as the route prefix.
	Name() string

	// Start begins background work. It must not block.
	Start(ctx context.Context) error

	// Stop ends background work and waits for it to finish.
	Stop() error

	// Routes returns the HTTP routes this plugin exposes.
	Routes() []Route
}
