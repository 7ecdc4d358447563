package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

/*
	Every transmission is one PDU:

	0                16
	.----------------+----------------------.
	|  Total Length  |        Payload       |
	|  (big-endian,  |  flag byte followed  |
	|  incl. header) |  by flag-specific    |
	|                |  fields              |
	`----------------+----------------------'

	The payload is never empty: a PDU must carry at least its flag byte.
*/

func writeFull(w io.Writer, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		if err != nil {
			return fmt.Errorf("write error after %d bytes (wanted %d): %w", total, len(buf), err)
		}
		if n == 0 {
			return fmt.Errorf("short write: wrote 0 bytes after %d", total)
		}
		total += n
	}
	return nil
}

// WritePayload frames payload into a single PDU and writes it as one
// coalesced buffer, so concurrent writers sharing a connection can never
// interleave a header with someone else's payload.
func WritePayload(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return errors.New("refusing to send empty payload")
	}
	if len(payload) > MaxPayloadLength {
		return fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadLength)
	}

	buf := make([]byte, headerLength+len(payload))
	binary.BigEndian.PutUint16(buf[0:headerLength], uint16(headerLength+len(payload)))
	copy(buf[headerLength:], payload)

	if err := writeFull(w, buf); err != nil {
		return fmt.Errorf("failed to write PDU: %w", err)
	}
	return nil
}

// ReadPayload reads exactly one PDU from r and returns its payload.
// A clean close before any header byte, or after the header but before
// any payload byte, yields ErrPeerClosed; a close inside the header or
// after part of the payload is a ProtocolError. Payloads longer than
// maxPayload yield ErrPayloadTooLarge.
func ReadPayload(r io.Reader, maxPayload int) ([]byte, error) {
	header := make([]byte, headerLength)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, protoErr(0, "short read on PDU header")
		}
		if err == io.EOF || IsPeerClosed(err) {
			return nil, ErrPeerClosed
		}
		return nil, fmt.Errorf("failed to read PDU header: %w", err)
	}

	length := int(binary.BigEndian.Uint16(header))
	if length < minPDULength {
		return nil, protoErr(0, "invalid PDU length: %d", length)
	}

	payloadLen := length - headerLength
	if payloadLen > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes declared, limit %d", ErrPayloadTooLarge, payloadLen, maxPayload)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			return nil, ErrPeerClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, protoErr(Flag(payload[0]), "short read on PDU payload")
		}
		if IsPeerClosed(err) {
			return nil, ErrPeerClosed
		}
		return nil, fmt.Errorf("failed to read PDU payload: %w", err)
	}

	return payload, nil
}
