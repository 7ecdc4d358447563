package clienttest

import (
	"bytes"
	"testing"
	"time"
)

func mustRegister(t *testing.T, addr, handle string) *ChatClient {
	t.Helper()
	client, err := NewChatClient(addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(client.Close)
	flag, err := client.Register(handle)
	if err != nil {
		t.Fatalf("Register %q failed: %v", handle, err)
	}
	if flag != FlagRegisterAck {
		t.Fatalf("Registration of %q refused with flag %d", handle, flag)
	}
	return client
}

func TestUnicastDelivery(t *testing.T) {
	addr := StartServer(t)
	alice := mustRegister(t, addr, "alice")
	bob := mustRegister(t, addr, "bob")

	wire := BuildUnicast("alice", "bob", "hi")
	if err := alice.Send(wire); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	pdu, err := ReadNextPDU(bob.conn)
	if err != nil {
		t.Fatalf("Failed to read PDU: %v", err)
	}
	if pdu.Flag != FlagUnicast {
		t.Fatalf("Expected flag %d, got %d", FlagUnicast, pdu.Flag)
	}

	// The relayed payload is byte-identical to what alice put on the
	// wire: sender alice, one destination bob, text "hi" plus NUL.
	if !bytes.Equal(pdu.Payload, wire[2:]) {
		t.Errorf("Relayed payload differs from original:\n got %x\nwant %x", pdu.Payload, wire[2:])
	}
}

func TestUnknownDestination(t *testing.T) {
	addr := StartServer(t)
	alice := mustRegister(t, addr, "alice")

	if err := alice.Send(BuildUnicast("alice", "carol", "hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	pdu, err := ReadNextPDU(alice.conn)
	if err != nil {
		t.Fatalf("Failed to read PDU: %v", err)
	}
	if pdu.Flag != FlagUnknownDest {
		t.Fatalf("Expected flag %d, got %d", FlagUnknownDest, pdu.Flag)
	}
	handle, err := parseHandlePDU(pdu)
	if err != nil {
		t.Fatalf("Failed to parse handle: %v", err)
	}
	if handle != "carol" {
		t.Errorf("Expected missing handle carol, got %q", handle)
	}
}

func TestBroadcastFanout(t *testing.T) {
	addr := StartServer(t)
	alice := mustRegister(t, addr, "alice")
	bob := mustRegister(t, addr, "bob")
	carol := mustRegister(t, addr, "carol")

	wire := BuildBroadcast("alice", "hello everyone")
	if err := alice.Send(wire); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for _, recipient := range []*ChatClient{bob, carol} {
		pdu, err := ReadNextPDU(recipient.conn)
		if err != nil {
			t.Fatalf("Failed to read PDU: %v", err)
		}
		if !bytes.Equal(pdu.Payload, wire[2:]) {
			t.Errorf("Broadcast payload differs from original:\n got %x\nwant %x", pdu.Payload, wire[2:])
		}
	}

	// The sender gets nothing back.
	if _, err := ReadNextPDU(alice.conn); err == nil {
		t.Error("Sender unexpectedly received a broadcast copy")
	}
}

func TestMulticastPartialHits(t *testing.T) {
	addr := StartServer(t)
	alice := mustRegister(t, addr, "alice")
	bob := mustRegister(t, addr, "bob")
	dave := mustRegister(t, addr, "dave")

	wire := BuildMulticast("alice", []string{"bob", "carol", "dave"}, "hey")
	if err := alice.Send(wire); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// bob and dave each receive the original payload, destination list
	// included.
	for _, recipient := range []*ChatClient{bob, dave} {
		pdu, err := ReadNextPDU(recipient.conn)
		if err != nil {
			t.Fatalf("Failed to read PDU: %v", err)
		}
		if !bytes.Equal(pdu.Payload, wire[2:]) {
			t.Errorf("Multicast payload differs from original:\n got %x\nwant %x", pdu.Payload, wire[2:])
		}
	}

	// alice receives exactly one flag-7 naming carol.
	pdu, err := ReadNextPDU(alice.conn)
	if err != nil {
		t.Fatalf("Failed to read PDU: %v", err)
	}
	if pdu.Flag != FlagUnknownDest {
		t.Fatalf("Expected flag %d, got %d", FlagUnknownDest, pdu.Flag)
	}
	if handle, _ := parseHandlePDU(pdu); handle != "carol" {
		t.Errorf("Expected missing handle carol, got %q", handle)
	}
	if _, err := ReadNextPDU(alice.conn); err == nil {
		t.Error("Expected exactly one flag-7 packet")
	}
}

func TestMulticastErrorOrdering(t *testing.T) {
	addr := StartServer(t)
	alice := mustRegister(t, addr, "alice")
	mustRegister(t, addr, "bob")

	if err := alice.Send(BuildMulticast("alice", []string{"xavier", "bob", "yvonne"}, "hi")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for _, want := range []string{"xavier", "yvonne"} {
		pdu, err := ReadNextPDU(alice.conn)
		if err != nil {
			t.Fatalf("Failed to read PDU: %v", err)
		}
		if pdu.Flag != FlagUnknownDest {
			t.Fatalf("Expected flag %d, got %d", FlagUnknownDest, pdu.Flag)
		}
		if handle, _ := parseHandlePDU(pdu); handle != want {
			t.Errorf("Expected missing handle %q, got %q", want, handle)
		}
	}
}

func TestDepartedDestination(t *testing.T) {
	addr := StartServer(t)
	alice := mustRegister(t, addr, "alice")
	bob := mustRegister(t, addr, "bob")
	bob.Close()

	// The registry entry disappears once the server notices the close;
	// after that the destination resolves to a flag-7.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := alice.Send(BuildUnicast("alice", "bob", "hi")); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		pdu, err := ReadNextPDU(alice.conn)
		if err == nil && pdu.Flag == FlagUnknownDest {
			if handle, _ := parseHandlePDU(pdu); handle == "bob" {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("Never observed flag-7 for departed destination")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
