package protocol

type Flag uint8

const (
	// Message flags
	Register    Flag = 1
	RegisterAck Flag = 2
	RegisterNak Flag = 3
	Broadcast   Flag = 4
	Unicast     Flag = 5
	Multicast   Flag = 6
	UnknownDest Flag = 7
	RosterReq   Flag = 10
	RosterStart Flag = 11
	RosterEntry Flag = 12
	RosterEnd   Flag = 13

	// lengths
	headerLength     = 2
	minPDULength     = 3 // header plus the mandatory flag byte
	maxPDULength     = 65535
	MaxPayloadLength = maxPDULength - headerLength

	// handle limits
	MinHandleLength = 1
	MaxHandleLength = 100

	// destination counts carried by multicast payloads
	MinDestCount = 1
	MaxDestCount = 255
)

// KnownFlag reports whether f is one of the defined message flags.
// Payloads carrying other flags are dropped rather than treated as
// malformed, for forward compatibility.
func KnownFlag(f Flag) bool {
	switch f {
	case Register, RegisterAck, RegisterNak, Broadcast, Unicast, Multicast,
		UnknownDest, RosterReq, RosterStart, RosterEntry, RosterEnd:
		return true
	}
	return false
}

func (f Flag) String() string {
	switch f {
	case Register:
		return "Register"
	case RegisterAck:
		return "RegisterAck"
	case RegisterNak:
		return "RegisterNak"
	case Broadcast:
		return "Broadcast"
	case Unicast:
		return "Unicast"
	case Multicast:
		return "Multicast"
	case UnknownDest:
		return "UnknownDest"
	case RosterReq:
		return "RosterReq"
	case RosterStart:
		return "RosterStart"
	case RosterEntry:
		return "RosterEntry"
	case RosterEnd:
		return "RosterEnd"
	}
	return "Unknown"
}
