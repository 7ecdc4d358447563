// Package clienttest exercises the relay server over real loopback
// connections, speaking the wire format byte by byte.
package clienttest

import (
	"net"
	"testing"
	"time"

	"github.com/kmetzger/chatrelay/internal/config"
	"github.com/kmetzger/chatrelay/internal/server"
	"go.uber.org/zap"
)

// StartServer runs an in-process relay on a loopback listener and
// returns its address.
func StartServer(t *testing.T) string {
	t.Helper()
	cfg := &config.Config{ListenAddr: "127.0.0.1:0", LogLevel: "error"}
	srv := server.New(cfg, zap.NewNop().Sugar())
	if err := srv.Listen(); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go srv.Serve() //nolint:errcheck
	t.Cleanup(func() { _ = srv.Stop(2 * time.Second) })
	return srv.Addr().String()
}

type ChatClient struct {
	conn net.Conn
}

func NewChatClient(address string, timeout time.Duration) (*ChatClient, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	return &ChatClient{conn: conn}, nil
}

func (c *ChatClient) Send(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

func (c *ChatClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Register sends a flag-1 PDU and returns the reply flag (2 or 3).
func (c *ChatClient) Register(handle string) (byte, error) {
	if err := c.Send(BuildRegister(handle)); err != nil {
		return 0, err
	}
	pdu, err := ReadNextPDU(c.conn)
	if err != nil {
		return 0, err
	}
	return pdu.Flag, nil
}
