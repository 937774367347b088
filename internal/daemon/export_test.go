package daemon

import (
	"net"

	"github.com/calvinalkan/kanbus/internal/index"
	"github.com/calvinalkan/kanbus/internal/protocol"
)

// SetIndexLoader replaces how index.list obtains its index.
func SetIndexLoader(s *Server, load func() (*index.Index, error)) {
	s.loadIndex = load
}

// WriteResponse sends resp on conn the way a connection handler does.
func WriteResponse(s *Server, conn net.Conn, resp protocol.Response) {
	s.writeResponse(conn, resp)
}
