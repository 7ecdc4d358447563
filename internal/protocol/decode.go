package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ReadMessage reads one PDU from r and decodes its payload.
func ReadMessage(r io.Reader) (Message, error) {
	payload, err := ReadPayload(r, MaxPayloadLength)
	if err != nil {
		return nil, err
	}
	msg, err := Decipher(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return msg, nil
}

// Decipher parses payload bytes into a typed message. Decode is total:
// any malformed payload yields a ProtocolError carrying the flag.
func Decipher(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, protoErr(0, "empty payload, flag byte required")
	}

	flag := Flag(payload[0])
	body := payload[1:]

	switch flag {

	case Register:
		h, rest, err := takeHandle(flag, body)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, protoErr(flag, "trailing %d bytes after handle", len(rest))
		}
		return NewRegisterMessage(h), nil

	case RegisterAck:
		if err := wantEmpty(flag, body); err != nil {
			return nil, err
		}
		return NewRegisterAckMessage(), nil

	case RegisterNak:
		if err := wantEmpty(flag, body); err != nil {
			return nil, err
		}
		return NewRegisterNakMessage(), nil

	case Broadcast:
		sender, rest, err := takeHandle(flag, body)
		if err != nil {
			return nil, err
		}
		text, err := takeText(flag, rest)
		if err != nil {
			return nil, err
		}
		return NewBroadcastMessage(sender, text), nil

	case Unicast:
		// Parsed like multicast: the shape allows any count, routing
		// only acts when it is exactly one.
		sender, rest, err := takeHandle(flag, body)
		if err != nil {
			return nil, err
		}
		if len(rest) == 0 {
			return nil, protoErr(flag, "missing destination count")
		}
		n := int(rest[0])
		if n < MinDestCount {
			return nil, protoErr(flag, "destination count %d, want at least %d", n, MinDestCount)
		}
		rest = rest[1:]
		dests := make([]string, 0, n)
		for i := 0; i < n; i++ {
			var d string
			d, rest, err = takeHandle(flag, rest)
			if err != nil {
				return nil, err
			}
			dests = append(dests, d)
		}
		text, err := takeText(flag, rest)
		if err != nil {
			return nil, err
		}
		return &UnicastMessage{sender: sender, dests: dests, text: text}, nil

	case Multicast:
		sender, rest, err := takeHandle(flag, body)
		if err != nil {
			return nil, err
		}
		if len(rest) == 0 {
			return nil, protoErr(flag, "missing destination count")
		}
		n := int(rest[0])
		if n < MinDestCount {
			return nil, protoErr(flag, "destination count %d, want at least %d", n, MinDestCount)
		}
		rest = rest[1:]
		dests := make([]string, 0, n)
		for i := 0; i < n; i++ {
			var d string
			d, rest, err = takeHandle(flag, rest)
			if err != nil {
				return nil, err
			}
			dests = append(dests, d)
		}
		text, err := takeText(flag, rest)
		if err != nil {
			return nil, err
		}
		return NewMulticastMessage(sender, dests, text), nil

	case UnknownDest:
		h, rest, err := takeHandle(flag, body)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, protoErr(flag, "trailing %d bytes after handle", len(rest))
		}
		return NewUnknownDestMessage(h), nil

	case RosterReq:
		if err := wantEmpty(flag, body); err != nil {
			return nil, err
		}
		return NewRosterReqMessage(), nil

	case RosterStart:
		if len(body) != 4 {
			return nil, protoErr(flag, "count field is %d bytes, want 4", len(body))
		}
		return NewRosterStartMessage(binary.BigEndian.Uint32(body)), nil

	case RosterEntry:
		h, rest, err := takeHandle(flag, body)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, protoErr(flag, "trailing %d bytes after handle", len(rest))
		}
		return NewRosterEntryMessage(h), nil

	case RosterEnd:
		if err := wantEmpty(flag, body); err != nil {
			return nil, err
		}
		return NewRosterEndMessage(), nil

	default:
		return nil, protoErr(flag, "unsupported flag")
	}
}

// takeHandle consumes a length-prefixed handle from the front of data
// and returns it with the unconsumed remainder.
func takeHandle(flag Flag, data []byte) (string, []byte, error) {
	if len(data) == 0 {
		return "", nil, protoErr(flag, "missing handle length")
	}
	hlen := int(data[0])
	if hlen < MinHandleLength || hlen > MaxHandleLength {
		return "", nil, protoErr(flag, "handle length %d out of range %d..%d", hlen, MinHandleLength, MaxHandleLength)
	}
	if len(data) < 1+hlen {
		return "", nil, protoErr(flag, "handle length %d exceeds remaining %d bytes", hlen, len(data)-1)
	}
	h := data[1 : 1+hlen]
	if bytes.IndexByte(h, 0) >= 0 {
		return "", nil, protoErr(flag, "handle contains NUL byte")
	}
	return string(h), data[1+hlen:], nil
}

// takeText consumes the trailing NUL-terminated text field. The NUL
// must be present at or before the end of the payload.
func takeText(flag Flag, data []byte) (string, error) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return "", protoErr(flag, "text not NUL-terminated")
	}
	return string(data[:nul]), nil
}

// wantEmpty rejects a body carrying unexpected trailing bytes for PDUs
// that take no payload beyond the flag.
func wantEmpty(flag Flag, body []byte) error {
	if len(body) != 0 {
		return protoErr(flag, "trailing %d bytes after flag", len(body))
	}
	return nil
}
