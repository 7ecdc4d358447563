package client

import (
	"errors"
	"strconv"
	"strings"

	"github.com/kmetzger/chatrelay/internal/protocol"
)

// ErrBadCommand covers every line that does not parse against the
// command grammar. The engine answers it with "Invalid command".
var ErrBadCommand = errors.New("invalid command")

type CommandKind int

const (
	CmdUnicast CommandKind = iota
	CmdBroadcast
	CmdMulticast
	CmdList
	CmdHelp
)

const (
	minMulticastDests = 2
	maxMulticastDests = 9
)

// Command is one parsed input line.
type Command struct {
	Kind  CommandKind
	Dests []string
	Text  string
}

// splitToken takes the next whitespace-separated token off the front
// of s. The remainder keeps its leading whitespace so the final text
// field can preserve internal spacing.
func splitToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

// textField trims the single separator run before the text; everything
// after that, internal spacing included, is the text.
func textField(s string) string {
	return strings.TrimLeft(s, " \t")
}

func validDest(h string) bool {
	return len(h) >= protocol.MinHandleLength && len(h) <= protocol.MaxHandleLength
}

// ParseCommand parses one input line against the user-facing grammar.
// The command letter is case-insensitive.
func ParseCommand(line string) (*Command, error) {
	line = strings.TrimRight(line, "\r\n")

	tok, rest := splitToken(line)
	switch strings.ToUpper(tok) {

	case "%M":
		dest, rest := splitToken(rest)
		if !validDest(dest) {
			return nil, ErrBadCommand
		}
		return &Command{Kind: CmdUnicast, Dests: []string{dest}, Text: textField(rest)}, nil

	case "%B":
		return &Command{Kind: CmdBroadcast, Text: textField(rest)}, nil

	case "%C":
		kTok, rest := splitToken(rest)
		k, err := strconv.Atoi(kTok)
		if err != nil || k < minMulticastDests || k > maxMulticastDests {
			return nil, ErrBadCommand
		}
		dests := make([]string, 0, k)
		for i := 0; i < k; i++ {
			var dest string
			dest, rest = splitToken(rest)
			if !validDest(dest) {
				return nil, ErrBadCommand
			}
			dests = append(dests, dest)
		}
		return &Command{Kind: CmdMulticast, Dests: dests, Text: textField(rest)}, nil

	case "%L":
		return &Command{Kind: CmdList}, nil

	case "%H":
		return &Command{Kind: CmdHelp}, nil

	default:
		return nil, ErrBadCommand
	}
}
