package server

import (
	"net"
	"testing"
	"time"

	"github.com/kmetzger/chatrelay/internal/config"
	"github.com/kmetzger/chatrelay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{ListenAddr: "127.0.0.1:0", LogLevel: "error"}
	s := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, s.Listen())
	go s.Serve() //nolint:errcheck
	t.Cleanup(func() { _ = s.Stop(2 * time.Second) })
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn net.Conn, m protocol.Message) {
	t.Helper()
	require.NoError(t, protocol.Send(conn, m))
}

func readPayload(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	payload, err := protocol.ReadPayload(conn, protocol.MaxPayloadLength)
	require.NoError(t, err)
	return payload
}

func readMsg(t *testing.T, conn net.Conn) protocol.Message {
	t.Helper()
	msg, err := protocol.Decipher(readPayload(t, conn))
	require.NoError(t, err)
	return msg
}

// expectSilence asserts nothing arrives on conn within the window.
func expectSilence(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	nerr, ok := err.(net.Error)
	require.True(t, ok && nerr.Timeout(), "expected read timeout, got %v", err)
	require.NoError(t, conn.SetReadDeadline(time.Time{}))
}

func register(t *testing.T, s *Server, handle string) net.Conn {
	t.Helper()
	conn := dial(t, s)
	sendMsg(t, conn, protocol.NewRegisterMessage(handle))
	msg := readMsg(t, conn)
	require.Equal(t, protocol.RegisterAck, msg.Flag())
	return conn
}

func TestRegistrationAccepted(t *testing.T) {
	s := startServer(t)
	register(t, s, "alice")
}

func TestRegistrationDuplicateRefused(t *testing.T) {
	s := startServer(t)
	register(t, s, "alice")

	second := dial(t, s)
	sendMsg(t, second, protocol.NewRegisterMessage("alice"))
	msg := readMsg(t, second)
	assert.Equal(t, protocol.RegisterNak, msg.Flag())

	// The refused connection is closed by the server.
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := protocol.ReadPayload(second, protocol.MaxPayloadLength)
	assert.ErrorIs(t, err, protocol.ErrPeerClosed)
}

func TestHandleFreedAfterDisconnect(t *testing.T) {
	s := startServer(t)
	conn := register(t, s, "alice")
	conn.Close()

	require.Eventually(t, func() bool {
		_, ok := s.registry.LookupByHandle("alice")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	register(t, s, "alice")
}

func TestUnregisteredTrafficIgnored(t *testing.T) {
	s := startServer(t)
	register(t, s, "bob")

	conn := dial(t, s)
	sendMsg(t, conn, protocol.NewBroadcastMessage("ghost", "boo"))
	sendMsg(t, conn, protocol.NewRosterReqMessage())
	expectSilence(t, conn)

	// The connection is still usable: registration works afterwards.
	sendMsg(t, conn, protocol.NewRegisterMessage("alice"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msg := readMsg(t, conn)
	assert.Equal(t, protocol.RegisterAck, msg.Flag())
}

func TestUnicastDelivery(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")

	sent, err := protocol.NewUnicastMessage("alice", "bob", "hi").Marshal()
	require.NoError(t, err)
	require.NoError(t, protocol.WritePayload(alice, sent))

	// The relayed payload is byte-identical to what alice sent.
	got := readPayload(t, bob)
	assert.Equal(t, sent, got)
	expectSilence(t, alice)
}

func TestUnicastUnknownDestination(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")

	sendMsg(t, alice, protocol.NewUnicastMessage("alice", "carol", "hello"))

	msg := readMsg(t, alice)
	ud, ok := msg.(*protocol.UnknownDestMessage)
	require.True(t, ok, "expected flag 7, got %s", msg.Flag())
	assert.Equal(t, "carol", ud.Handle())
}

func TestBroadcastFanout(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")
	carol := register(t, s, "carol")

	sent, err := protocol.NewBroadcastMessage("alice", "hello everyone").Marshal()
	require.NoError(t, err)
	require.NoError(t, protocol.WritePayload(alice, sent))

	assert.Equal(t, sent, readPayload(t, bob))
	assert.Equal(t, sent, readPayload(t, carol))
	expectSilence(t, alice)
}

func TestMulticastPartialHits(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")
	dave := register(t, s, "dave")

	sent, err := protocol.NewMulticastMessage("alice", []string{"bob", "carol", "dave"}, "hey").Marshal()
	require.NoError(t, err)
	require.NoError(t, protocol.WritePayload(alice, sent))

	// Resolved destinations get the original payload, including the
	// full destination list.
	assert.Equal(t, sent, readPayload(t, bob))
	assert.Equal(t, sent, readPayload(t, dave))

	msg := readMsg(t, alice)
	ud, ok := msg.(*protocol.UnknownDestMessage)
	require.True(t, ok, "expected flag 7, got %s", msg.Flag())
	assert.Equal(t, "carol", ud.Handle())
	expectSilence(t, alice)
}

func TestMulticastErrorOrdering(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")
	register(t, s, "bob")

	sendMsg(t, alice, protocol.NewMulticastMessage("alice", []string{"xavier", "bob", "yvonne"}, "hi"))

	// Flag-7 packets arrive in the order of the failing destinations.
	for _, want := range []string{"xavier", "yvonne"} {
		msg := readMsg(t, alice)
		ud, ok := msg.(*protocol.UnknownDestMessage)
		require.True(t, ok, "expected flag 7, got %s", msg.Flag())
		assert.Equal(t, want, ud.Handle())
	}
}

func TestUnicastOddCountIgnored(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")

	// A flag-5 payload carrying two destinations parses but is ignored.
	payload := []byte{byte(protocol.Unicast), 5, 'a', 'l', 'i', 'c', 'e', 2, 3, 'b', 'o', 'b', 3, 'b', 'o', 'b', 'h', 'i', 0}
	require.NoError(t, protocol.WritePayload(alice, payload))

	expectSilence(t, bob)
	expectSilence(t, alice)
}

func TestRosterSequence(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")
	register(t, s, "bob")
	register(t, s, "carol")

	sendMsg(t, alice, protocol.NewRosterReqMessage())

	start := readMsg(t, alice)
	hdr, ok := start.(*protocol.RosterStartMessage)
	require.True(t, ok, "expected flag 11, got %s", start.Flag())
	require.Equal(t, uint32(3), hdr.Count())

	// Entries arrive in registration order.
	for _, want := range []string{"alice", "bob", "carol"} {
		msg := readMsg(t, alice)
		entry, ok := msg.(*protocol.RosterEntryMessage)
		require.True(t, ok, "expected flag 12, got %s", msg.Flag())
		assert.Equal(t, want, entry.Handle())
	}

	end := readMsg(t, alice)
	assert.Equal(t, protocol.RosterEnd, end.Flag())
}

func TestUnknownFlagDropped(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")

	require.NoError(t, protocol.WritePayload(alice, []byte{99, 1, 2, 3}))

	// The connection survives and still answers a roster request.
	sendMsg(t, alice, protocol.NewRosterReqMessage())
	msg := readMsg(t, alice)
	assert.Equal(t, protocol.RosterStart, msg.Flag())
}

func TestMalformedPayloadClosesConn(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")

	// Known flag, broken body: declared handle length exceeds payload.
	require.NoError(t, protocol.WritePayload(alice, []byte{byte(protocol.Register), 50, 'a'}))

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := protocol.ReadPayload(alice, protocol.MaxPayloadLength)
	assert.ErrorIs(t, err, protocol.ErrPeerClosed)
}

func TestDisconnectedDestinationYieldsUnknownDest(t *testing.T) {
	s := startServer(t)
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")
	bob.Close()

	require.Eventually(t, func() bool {
		_, ok := s.registry.LookupByHandle("bob")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	sendMsg(t, alice, protocol.NewUnicastMessage("alice", "bob", "hi"))
	msg := readMsg(t, alice)
	ud, ok := msg.(*protocol.UnknownDestMessage)
	require.True(t, ok, "expected flag 7, got %s", msg.Flag())
	assert.Equal(t, "bob", ud.Handle())
}
