package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// appendHandle appends a one-byte length prefix followed by the handle
// bytes. The handle must already have passed validateHandle.
func appendHandle(buf []byte, h string) []byte {
	buf = append(buf, byte(len(h)))
	return append(buf, h...)
}

// appendText appends the text bytes and the trailing NUL. Empty text is
// a single NUL byte on the wire.
func appendText(buf []byte, text string) ([]byte, error) {
	if strings.IndexByte(text, 0) >= 0 {
		return nil, fmt.Errorf("text contains NUL byte")
	}
	buf = append(buf, text...)
	return append(buf, 0), nil
}

// Send marshals the message and writes it as a single framed PDU.
func Send(w io.Writer, m Message) error {
	payload, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", m.Flag(), err)
	}
	if err := WritePayload(w, payload); err != nil {
		return fmt.Errorf("failed to send %s message: %w", m.Flag(), err)
	}
	return nil
}

func (m *RegisterMessage) Marshal() ([]byte, error) {
	if err := validateHandle(m.handle); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 2+len(m.handle))
	buf = append(buf, byte(Register))
	return appendHandle(buf, m.handle), nil
}

func (m *RegisterAckMessage) Marshal() ([]byte, error) {
	return []byte{byte(RegisterAck)}, nil
}

func (m *RegisterNakMessage) Marshal() ([]byte, error) {
	return []byte{byte(RegisterNak)}, nil
}

func (m *BroadcastMessage) Marshal() ([]byte, error) {
	if err := validateHandle(m.sender); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	buf := make([]byte, 0, 3+len(m.sender)+len(m.text))
	buf = append(buf, byte(Broadcast))
	buf = appendHandle(buf, m.sender)
	return appendText(buf, m.text)
}

func (m *UnicastMessage) Marshal() ([]byte, error) {
	if err := validateHandle(m.sender); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	buf := make([]byte, 0, 5+len(m.sender)+len(m.text)+len(m.dests)*(MaxHandleLength+1))
	buf = append(buf, byte(Unicast))
	buf = appendHandle(buf, m.sender)
	buf = append(buf, byte(len(m.dests)))
	for i, d := range m.dests {
		if err := validateHandle(d); err != nil {
			return nil, fmt.Errorf("invalid destination %d: %w", i, err)
		}
		buf = appendHandle(buf, d)
	}
	return appendText(buf, m.text)
}

func (m *MulticastMessage) Marshal() ([]byte, error) {
	if err := validateHandle(m.sender); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if len(m.dests) < MinDestCount || len(m.dests) > MaxDestCount {
		return nil, fmt.Errorf("destination count %d out of range %d..%d", len(m.dests), MinDestCount, MaxDestCount)
	}
	buf := make([]byte, 0, 4+len(m.sender)+len(m.text)+len(m.dests)*(MaxHandleLength+1))
	buf = append(buf, byte(Multicast))
	buf = appendHandle(buf, m.sender)
	buf = append(buf, byte(len(m.dests)))
	for i, d := range m.dests {
		if err := validateHandle(d); err != nil {
			return nil, fmt.Errorf("invalid destination %d: %w", i, err)
		}
		buf = appendHandle(buf, d)
	}
	return appendText(buf, m.text)
}

func (m *UnknownDestMessage) Marshal() ([]byte, error) {
	if err := validateHandle(m.handle); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 2+len(m.handle))
	buf = append(buf, byte(UnknownDest))
	return appendHandle(buf, m.handle), nil
}

func (m *RosterReqMessage) Marshal() ([]byte, error) {
	return []byte{byte(RosterReq)}, nil
}

func (m *RosterStartMessage) Marshal() ([]byte, error) {
	buf := make([]byte, 5)
	buf[0] = byte(RosterStart)
	binary.BigEndian.PutUint32(buf[1:], m.count)
	return buf, nil
}

func (m *RosterEntryMessage) Marshal() ([]byte, error) {
	if err := validateHandle(m.handle); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 2+len(m.handle))
	buf = append(buf, byte(RosterEntry))
	return appendHandle(buf, m.handle), nil
}

func (m *RosterEndMessage) Marshal() ([]byte, error) {
	return []byte{byte(RosterEnd)}, nil
}
