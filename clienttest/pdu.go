package clienttest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Flags under test, spelled out independently of the implementation.
const (
	FlagRegister    = 1
	FlagRegisterAck = 2
	FlagRegisterNak = 3
	FlagBroadcast   = 4
	FlagUnicast     = 5
	FlagMulticast   = 6
	FlagUnknownDest = 7
	FlagRosterReq   = 10
	FlagRosterStart = 11
	FlagRosterEntry = 12
	FlagRosterEnd   = 13
)

type PDU struct {
	Length  uint16
	Flag    byte
	Payload []byte // flag byte included
}

func ReadNextPDU(conn net.Conn) (*PDU, error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("reading PDU header: %w", err)
	}

	length := binary.BigEndian.Uint16(header)
	if length < 3 {
		return nil, fmt.Errorf("invalid PDU length: %d", length)
	}

	payload := make([]byte, length-2)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, fmt.Errorf("reading PDU payload: %w", err)
	}

	return &PDU{
		Length:  length,
		Flag:    payload[0],
		Payload: payload,
	}, nil
}

// frame prefixes a payload with its two-byte total length.
func frame(payload []byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint16(len(payload)+2)) //nolint:errcheck
	buf.Write(payload)
	return buf.Bytes()
}

func appendHandle(payload []byte, handle string) []byte {
	payload = append(payload, byte(len(handle)))
	return append(payload, handle...)
}

func BuildRegister(handle string) []byte {
	return frame(appendHandle([]byte{FlagRegister}, handle))
}

func BuildBroadcast(sender, text string) []byte {
	payload := appendHandle([]byte{FlagBroadcast}, sender)
	payload = append(payload, text...)
	return frame(append(payload, 0))
}

func BuildUnicast(sender, dest, text string) []byte {
	payload := appendHandle([]byte{FlagUnicast}, sender)
	payload = append(payload, 1)
	payload = appendHandle(payload, dest)
	payload = append(payload, text...)
	return frame(append(payload, 0))
}

func BuildMulticast(sender string, dests []string, text string) []byte {
	payload := appendHandle([]byte{FlagMulticast}, sender)
	payload = append(payload, byte(len(dests)))
	for _, d := range dests {
		payload = appendHandle(payload, d)
	}
	payload = append(payload, text...)
	return frame(append(payload, 0))
}

func BuildRosterRequest() []byte {
	return frame([]byte{FlagRosterReq})
}

// BuildEmptyPDU declares total length 2, which leaves no room for the
// mandatory flag byte.
func BuildEmptyPDU() []byte {
	return []byte{0, 2}
}

// parseHandlePDU extracts the length-prefixed handle from flag 7 and
// flag 12 payloads.
func parseHandlePDU(pdu *PDU) (string, error) {
	if len(pdu.Payload) < 2 {
		return "", fmt.Errorf("payload too short: %d bytes", len(pdu.Payload))
	}
	hlen := int(pdu.Payload[1])
	if len(pdu.Payload) != 2+hlen {
		return "", fmt.Errorf("handle length %d does not match payload size %d", hlen, len(pdu.Payload))
	}
	return string(pdu.Payload[2 : 2+hlen]), nil
}

func parseRosterCount(pdu *PDU) (uint32, error) {
	if len(pdu.Payload) != 5 {
		return 0, fmt.Errorf("roster header payload is %d bytes, want 5", len(pdu.Payload))
	}
	return binary.BigEndian.Uint32(pdu.Payload[1:]), nil
}
