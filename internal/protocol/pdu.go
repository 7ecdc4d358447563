package protocol

import (
	"fmt"
	"strings"
)

// Message is one decoded chat payload. Marshal produces the payload
// bytes carried inside a PDU; the framing header is added by
// WritePayload (Send marshals and frames in one step).
type Message interface {
	Flag() Flag
	Marshal() ([]byte, error)
}

// validateHandle enforces the wire limits on a handle: 1..100 bytes,
// no embedded NUL. Comparison elsewhere is byte-for-byte.
func validateHandle(h string) error {
	if len(h) < MinHandleLength || len(h) > MaxHandleLength {
		return fmt.Errorf("handle length %d out of range %d..%d", len(h), MinHandleLength, MaxHandleLength)
	}
	if strings.IndexByte(h, 0) >= 0 {
		return fmt.Errorf("handle contains NUL byte")
	}
	return nil
}

type RegisterMessage struct {
	/*
		0          8          16
		.---------------------------------.
		|   Flag   |  Handle  |           |
		|    1     |  Length  |  Handle   |
		|          |  1..100  |           |
		`---------------------------------'
	*/
	handle string
}

func NewRegisterMessage(handle string) *RegisterMessage {
	return &RegisterMessage{handle: handle}
}

func (m *RegisterMessage) Flag() Flag     { return Register }
func (m *RegisterMessage) Handle() string { return m.handle }

type RegisterAckMessage struct {
	/*
		0          8
		.----------.
		|   Flag   |
		|    2     |
		`----------'
	*/
}

func NewRegisterAckMessage() *RegisterAckMessage { return &RegisterAckMessage{} }

func (m *RegisterAckMessage) Flag() Flag { return RegisterAck }

type RegisterNakMessage struct {
	/*
		0          8
		.----------.
		|   Flag   |
		|    3     |
		`----------'
	*/
}

func NewRegisterNakMessage() *RegisterNakMessage { return &RegisterNakMessage{} }

func (m *RegisterNakMessage) Flag() Flag { return RegisterNak }

type BroadcastMessage struct {
	/*
		0          8          16
		.----------------------------------------------.
		|   Flag   |  Sender  |          |    Text     |
		|    4     |  Length  |  Sender  |  (NUL-      |
		|          |  1..100  |          |  terminated)|
		`----------------------------------------------'
	*/
	sender string
	text   string
}

func NewBroadcastMessage(sender, text string) *BroadcastMessage {
	return &BroadcastMessage{sender: sender, text: text}
}

func (m *BroadcastMessage) Flag() Flag     { return Broadcast }
func (m *BroadcastMessage) Sender() string { return m.sender }
func (m *BroadcastMessage) Text() string   { return m.text }

type UnicastMessage struct {
	/*
		0          8          16
		.------------------------------------------------------.
		|   Flag   |  Sender  |        |  Dest   |      |      |
		|    5     |  Length  | Sender | Count=1 | Dest | Text |
		|          |  1..100  |        | DestLen |      | NUL  |
		`------------------------------------------------------'
	*/
	sender string
	dests  []string
	text   string
}

func NewUnicastMessage(sender, dest, text string) *UnicastMessage {
	return &UnicastMessage{sender: sender, dests: []string{dest}, text: text}
}

func (m *UnicastMessage) Flag() Flag     { return Unicast }
func (m *UnicastMessage) Sender() string { return m.sender }
func (m *UnicastMessage) Text() string   { return m.text }

// DestCount is 1 for messages built with NewUnicastMessage; decoded
// payloads may carry any parseable count and routing ignores them.
func (m *UnicastMessage) DestCount() int { return len(m.dests) }

// Dest returns the single destination handle, or "" if the payload did
// not carry exactly one.
func (m *UnicastMessage) Dest() string {
	if len(m.dests) != 1 {
		return ""
	}
	return m.dests[0]
}

type MulticastMessage struct {
	/*
		0          8          16
		.--------------------------------------------------------.
		|   Flag   |  Sender  |        |  Dest  | DestLen/Dest  |
		|    6     |  Length  | Sender |  Count |  x Count      | Text NUL
		|          |  1..100  |        |  1..n  |               |
		`--------------------------------------------------------'
	*/
	sender string
	dests  []string
	text   string
}

func NewMulticastMessage(sender string, dests []string, text string) *MulticastMessage {
	return &MulticastMessage{sender: sender, dests: dests, text: text}
}

func (m *MulticastMessage) Flag() Flag      { return Multicast }
func (m *MulticastMessage) Sender() string  { return m.sender }
func (m *MulticastMessage) Dests() []string { return m.dests }
func (m *MulticastMessage) Text() string    { return m.text }

type UnknownDestMessage struct {
	/*
		0          8          16
		.---------------------------------.
		|   Flag   |  Handle  |  Missing  |
		|    7     |  Length  |  Handle   |
		|          |  1..100  |           |
		`---------------------------------'
	*/
	handle string
}

func NewUnknownDestMessage(handle string) *UnknownDestMessage {
	return &UnknownDestMessage{handle: handle}
}

func (m *UnknownDestMessage) Flag() Flag     { return UnknownDest }
func (m *UnknownDestMessage) Handle() string { return m.handle }

type RosterReqMessage struct {
	/*
		0          8
		.----------.
		|   Flag   |
		|    10    |
		`----------'
	*/
}

func NewRosterReqMessage() *RosterReqMessage { return &RosterReqMessage{} }

func (m *RosterReqMessage) Flag() Flag { return RosterReq }

type RosterStartMessage struct {
	/*
		0          8                                  40
		.---------------------------------------------.
		|   Flag   |            Count                 |
		|    11    |       (32-bit big-endian)        |
		`---------------------------------------------'
	*/
	count uint32
}

func NewRosterStartMessage(count uint32) *RosterStartMessage {
	return &RosterStartMessage{count: count}
}

func (m *RosterStartMessage) Flag() Flag    { return RosterStart }
func (m *RosterStartMessage) Count() uint32 { return m.count }

type RosterEntryMessage struct {
	/*
		0          8          16
		.---------------------------------.
		|   Flag   |  Handle  |           |
		|    12    |  Length  |  Handle   |
		|          |  1..100  |           |
		`---------------------------------'
	*/
	handle string
}

func NewRosterEntryMessage(handle string) *RosterEntryMessage {
	return &RosterEntryMessage{handle: handle}
}

func (m *RosterEntryMessage) Flag() Flag     { return RosterEntry }
func (m *RosterEntryMessage) Handle() string { return m.handle }

type RosterEndMessage struct {
	/*
		0          8
		.----------.
		|   Flag   |
		|    13    |
		`----------'
	*/
}

func NewRosterEndMessage() *RosterEndMessage { return &RosterEndMessage{} }

func (m *RosterEndMessage) Flag() Flag { return RosterEnd }
