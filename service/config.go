package service

import (
	"net"

	"github.com/framepac/frinspect/pkg/inspect"
	"github.com/framepac/frinspect/pkg/proc"
)

// Config provides the configuration to expose an opened memory image with
// a service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// Dispatcher decodes the objects requested by the client.
	Dispatcher *inspect.Dispatcher
	// Source is the memory image Dispatcher reads from. It is closed when
	// the server stops.
	Source proc.Source

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
