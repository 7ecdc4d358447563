package server

import (
	"bufio"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/kmetzger/chatrelay/internal/protocol"
	"github.com/kmetzger/chatrelay/internal/registry"
	"go.uber.org/zap"
)

// errRegistrationRefused terminates a session after a flag-3 reply.
var errRegistrationRefused = errors.New("registration refused")

type client struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *zap.SugaredLogger
	srv    *Server

	id     string // opaque connection identifier
	handle string // set once, on successful registration

	// writeMu serializes every write on this connection so on-wire PDU
	// order matches the logical send order. A roster reply holds it
	// for the whole sequence.
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// newClient wraps an accepted connection into a client instance.
func newClient(conn net.Conn, srv *Server) *client {
	id := uuid.NewString()
	logger := srv.logger.With("client", conn.RemoteAddr().String(), "conn", id)

	return &client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: logger,
		srv:    srv,
		id:     id,
	}
}

// run is the per-connection receive loop. It returns nil on a clean
// peer close and an error on anything that forced the close.
func (c *client) run() error {
	for {
		payload, err := protocol.ReadPayload(c.reader, protocol.MaxPayloadLength)
		if err != nil {
			if errors.Is(err, protocol.ErrPeerClosed) {
				c.logger.Info("Client disconnected")
				return nil
			}
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				c.logger.Warnf("Malformed PDU: %v", perr)
				return err
			}
			c.logger.Warnf("Read error: %v", err)
			return err
		}

		if err := c.dispatch(payload); err != nil {
			return err
		}
	}
}

// dispatch routes one received payload. A non-nil return closes the
// connection.
func (c *client) dispatch(payload []byte) error {
	flag := protocol.Flag(payload[0])
	if !protocol.KnownFlag(flag) {
		// Dropped, not fatal, for forward compatibility.
		c.logger.Infof("Dropping payload with unknown flag %d", flag)
		c.srv.metrics.dropped()
		return nil
	}

	msg, err := protocol.Decipher(payload)
	if err != nil {
		// A broken registration attempt still gets its refusal before
		// the close, so the client can tell rejection from a crash.
		if flag == protocol.Register && c.handle == "" {
			c.logger.Infof("Refusing unparseable registration: %v", err)
			c.srv.metrics.registrationRejected()
			if err := c.sendMessage(protocol.NewRegisterNakMessage()); err != nil {
				c.logger.Warnf("Failed to send registration refusal: %v", err)
			}
			return errRegistrationRefused
		}
		c.logger.Warnf("Malformed payload: %v", err)
		return err
	}

	// Registration first: an unregistered connection may only register.
	if c.handle == "" {
		reg, ok := msg.(*protocol.RegisterMessage)
		if !ok {
			c.logger.Debugf("Ignoring %s from unregistered connection", msg.Flag())
			c.srv.metrics.dropped()
			return nil
		}
		return c.register(reg.Handle())
	}

	switch m := msg.(type) {
	case *protocol.RegisterMessage:
		// A handle is set once; a rename requires disconnect.
		c.logger.Debugf("Ignoring re-registration attempt as %q", m.Handle())
	case *protocol.BroadcastMessage:
		c.relayBroadcast(payload)
	case *protocol.UnicastMessage:
		c.relayUnicast(m, payload)
	case *protocol.MulticastMessage:
		c.relayMulticast(m, payload)
	case *protocol.RosterReqMessage:
		c.sendRoster()
	default:
		// Server-to-client flags have no business arriving here.
		c.logger.Debugf("Ignoring %s from client", msg.Flag())
		c.srv.metrics.dropped()
	}
	return nil
}

// register handles the flag-1 handshake. The handle has already passed
// the codec's length checks; the registry arbitrates uniqueness.
func (c *client) register(handle string) error {
	if err := c.srv.registry.Add(handle, c.id); err != nil {
		c.logger.Infof("Refusing registration as %q: %v", handle, err)
		c.srv.metrics.registrationRejected()
		if err := c.sendMessage(protocol.NewRegisterNakMessage()); err != nil {
			c.logger.Warnf("Failed to send registration refusal: %v", err)
		}
		return errRegistrationRefused
	}

	if err := c.sendMessage(protocol.NewRegisterAckMessage()); err != nil {
		c.logger.Warnf("Failed to send registration ack: %v", err)
		c.srv.registry.RemoveByConn(c.id)
		return err
	}

	c.handle = handle
	c.logger = c.logger.With("handle", handle)
	c.srv.metrics.registered()
	c.logger.Infof("Registered as %q", handle)
	return nil
}

// relayBroadcast forwards the payload verbatim to every registered
// connection except the sender. Individual send failures are logged
// and do not abort the fan-out.
func (c *client) relayBroadcast(payload []byte) {
	for _, e := range c.srv.registry.Snapshot() {
		if e.ConnID == c.id {
			continue
		}
		c.forward(e, payload)
	}
	c.srv.metrics.relayed("broadcast")
}

// relayUnicast forwards to the single destination, or answers the
// sender with a flag-7 naming the handle that did not resolve.
func (c *client) relayUnicast(m *protocol.UnicastMessage, payload []byte) {
	if m.DestCount() != 1 {
		c.logger.Debugf("Ignoring unicast with destination count %d", m.DestCount())
		c.srv.metrics.dropped()
		return
	}
	c.route(m.Dest(), payload)
	c.srv.metrics.relayed("unicast")
}

// relayMulticast resolves each destination independently, in request
// order. Every resolved destination receives one verbatim copy; every
// missing one produces exactly one flag-7 to the sender, in the order
// the destinations appeared.
func (c *client) relayMulticast(m *protocol.MulticastMessage, payload []byte) {
	for _, dest := range m.Dests() {
		c.route(dest, payload)
	}
	c.srv.metrics.relayed("multicast")
}

// route delivers payload to the named handle or reports it missing to
// the sender.
func (c *client) route(dest string, payload []byte) {
	connID, ok := c.srv.registry.LookupByHandle(dest)
	if !ok {
		c.srv.metrics.unknownDest()
		if err := c.sendMessage(protocol.NewUnknownDestMessage(dest)); err != nil {
			c.logger.Warnf("Failed to report unknown destination %q: %v", dest, err)
		}
		return
	}
	c.forward(registry.Entry{Handle: dest, ConnID: connID}, payload)
}

// forward writes payload to the recipient named by a registry entry.
// The recipient may have vanished since the lookup; that is not fatal.
func (c *client) forward(e registry.Entry, payload []byte) {
	peer := c.srv.lookupConn(e.ConnID)
	if peer == nil {
		c.logger.Debugf("Recipient %q closed before delivery", e.Handle)
		c.srv.metrics.relayFailed()
		return
	}
	if err := peer.send(payload); err != nil {
		c.logger.Warnf("Failed to relay to %q: %v", e.Handle, err)
		c.srv.metrics.relayFailed()
	}
}

// sendRoster emits the flag 11 / 12xN / 13 sequence. The snapshot and
// its count are captured in one call, and the sender's write mutex is
// held for the whole sequence so nothing interleaves.
func (c *client) sendRoster() {
	snapshot := c.srv.registry.Snapshot()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := protocol.Send(c.conn, protocol.NewRosterStartMessage(uint32(len(snapshot)))); err != nil {
		c.logger.Warnf("Failed to send roster header: %v", err)
		return
	}
	for _, e := range snapshot {
		if err := protocol.Send(c.conn, protocol.NewRosterEntryMessage(e.Handle)); err != nil {
			c.logger.Warnf("Failed to send roster entry %q: %v", e.Handle, err)
			return
		}
	}
	if err := protocol.Send(c.conn, protocol.NewRosterEndMessage()); err != nil {
		c.logger.Warnf("Failed to send roster terminator: %v", err)
		return
	}
	c.srv.metrics.relayed("roster")
}

// send writes one raw payload under the connection's write mutex.
func (c *client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WritePayload(c.conn, payload)
}

func (c *client) sendMessage(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.Send(c.conn, m)
}

// close terminates the connection once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}
