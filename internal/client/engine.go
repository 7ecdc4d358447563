package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/kmetzger/chatrelay/internal/protocol"
	"go.uber.org/zap"
)

// ErrRegistrationRefused is returned when the server answers the
// handshake with flag 3. The binary exits 1 on it.
var ErrRegistrationRefused = errors.New("handle in use")

// errServerGone ends the session loop after a socket error; the user
// has already seen "Server Terminated" and the binary exits 0.
var errServerGone = errors.New("server terminated")

const prompt = "$: "

// Options carries the client's command-line identity. ClientID is
// decorative and only shown in the greeting.
type Options struct {
	Handle   string
	Host     string
	Port     string
	ClientID int
	HasID    bool
}

type Engine struct {
	opts   Options
	logger *zap.SugaredLogger
	in     io.Reader
	out    io.Writer
}

// inboundPDU is one received payload, or the error that ended the read
// loop.
type inboundPDU struct {
	payload []byte
	err     error
}

// New builds an engine reading commands from in and printing to out.
func New(opts Options, logger *zap.SugaredLogger, in io.Reader, out io.Writer) *Engine {
	return &Engine{
		opts:   opts,
		logger: logger,
		in:     in,
		out:    out,
	}
}

// Run dials the server and drives the session until stdin EOF or the
// server goes away. Registration refusal surfaces as
// ErrRegistrationRefused.
func (e *Engine) Run() error {
	addr := net.JoinHostPort(e.opts.Host, e.opts.Port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()
	return e.Session(conn)
}

// Session registers the handle and runs the command/inbound loop over
// an established connection.
func (e *Engine) Session(conn net.Conn) error {
	reader := bufio.NewReader(conn)

	if err := e.register(conn, reader); err != nil {
		return err
	}

	e.printGreeting()
	e.prompt()

	inbound := make(chan inboundPDU)
	go func() {
		for {
			payload, err := protocol.ReadPayload(reader, protocol.MaxPayloadLength)
			inbound <- inboundPDU{payload: payload, err: err}
			if err != nil {
				close(inbound)
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(e.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// stdin EOF is a clean exit.
				return nil
			}
			if err := e.handleLine(conn, line, inbound); err != nil {
				if errors.Is(err, errServerGone) {
					return nil
				}
				return err
			}
			e.prompt()

		case in, ok := <-inbound:
			if !ok || in.err != nil {
				e.printServerTerminated()
				return nil
			}
			if err := e.handleInbound(in.payload, inbound); err != nil {
				if errors.Is(err, errServerGone) {
					return nil
				}
				return err
			}
			e.prompt()
		}
	}
}

// register performs the flag 1/2/3 handshake.
func (e *Engine) register(conn net.Conn, reader *bufio.Reader) error {
	if err := protocol.Send(conn, protocol.NewRegisterMessage(e.opts.Handle)); err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}

	msg, err := protocol.ReadMessage(reader)
	if err != nil {
		return fmt.Errorf("registration handshake failed: %w", err)
	}

	switch msg.Flag() {
	case protocol.RegisterAck:
		return nil
	case protocol.RegisterNak:
		fmt.Fprintln(e.out, "handle in use")
		return ErrRegistrationRefused
	default:
		return fmt.Errorf("unexpected %s reply to registration", msg.Flag())
	}
}

// handleLine parses and executes one command line.
func (e *Engine) handleLine(conn net.Conn, line string, inbound <-chan inboundPDU) error {
	cmd, err := ParseCommand(line)
	if err != nil {
		fmt.Fprintln(e.out, "Invalid command")
		return nil
	}

	switch cmd.Kind {

	case CmdHelp:
		e.printHelp()
		return nil

	case CmdBroadcast:
		return e.send(conn, protocol.NewBroadcastMessage(e.opts.Handle, cmd.Text))

	case CmdUnicast:
		return e.send(conn, protocol.NewUnicastMessage(e.opts.Handle, cmd.Dests[0], cmd.Text))

	case CmdMulticast:
		return e.send(conn, protocol.NewMulticastMessage(e.opts.Handle, cmd.Dests, cmd.Text))

	case CmdList:
		if err := e.send(conn, protocol.NewRosterReqMessage()); err != nil {
			return err
		}
		// Block on the socket until the reply sequence has been
		// assembled. Messages arriving ahead of the roster header are
		// dispatched normally.
		for {
			in, ok := <-inbound
			if !ok || in.err != nil {
				e.printServerTerminated()
				return errServerGone
			}
			done, err := e.dispatchOne(in.payload, inbound)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
	return nil
}

func (e *Engine) handleInbound(payload []byte, inbound <-chan inboundPDU) error {
	_, err := e.dispatchOne(payload, inbound)
	return err
}

// dispatchOne prints one inbound message. It reports whether the
// message completed a roster sequence. Malformed payloads are dropped.
func (e *Engine) dispatchOne(payload []byte, inbound <-chan inboundPDU) (bool, error) {
	msg, err := protocol.Decipher(payload)
	if err != nil {
		e.logger.Debugf("Dropping malformed inbound payload: %v", err)
		return false, nil
	}

	switch m := msg.(type) {

	case *protocol.BroadcastMessage:
		fmt.Fprintf(e.out, "%s: %s\n", m.Sender(), m.Text())

	case *protocol.UnicastMessage:
		fmt.Fprintf(e.out, "%s: %s\n", m.Sender(), m.Text())

	case *protocol.MulticastMessage:
		fmt.Fprintf(e.out, "%s: %s\n", m.Sender(), m.Text())

	case *protocol.UnknownDestMessage:
		fmt.Fprintf(e.out, "Client with handle %s does not exist.\n", m.Handle())

	case *protocol.RosterStartMessage:
		if err := e.collectRoster(m.Count(), inbound); err != nil {
			return true, err
		}
		return true, nil

	default:
		e.logger.Debugf("Dropping unexpected %s message", msg.Flag())
	}
	return false, nil
}

// collectRoster assembles the multi-packet list reply: exactly count
// entry PDUs, then the terminator. Non-entry PDUs inside the sequence
// are skipped conservatively.
func (e *Engine) collectRoster(count uint32, inbound <-chan inboundPDU) error {
	fmt.Fprintf(e.out, "Number of clients: %d\n", count)

	for i := uint32(0); i < count; i++ {
		in, ok := <-inbound
		if !ok || in.err != nil {
			e.printServerTerminated()
			return errServerGone
		}
		msg, err := protocol.Decipher(in.payload)
		if err != nil {
			e.logger.Debugf("Dropping malformed roster payload: %v", err)
			continue
		}
		entry, ok2 := msg.(*protocol.RosterEntryMessage)
		if !ok2 {
			e.logger.Debugf("Skipping %s inside roster sequence", msg.Flag())
			continue
		}
		fmt.Fprintln(e.out, entry.Handle())
	}

	// One trailing PDU, expected to be the terminator, is discarded.
	in, ok := <-inbound
	if !ok || in.err != nil {
		e.printServerTerminated()
		return errServerGone
	}
	if msg, err := protocol.Decipher(in.payload); err == nil && msg.Flag() != protocol.RosterEnd {
		e.logger.Debugf("Expected roster terminator, got %s", msg.Flag())
	}
	return nil
}

// send marshals and writes one message; a dead socket turns into the
// terminal "Server Terminated" exit.
func (e *Engine) send(conn net.Conn, m protocol.Message) error {
	payload, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", m.Flag(), err)
	}
	if err := protocol.WritePayload(conn, payload); err != nil {
		e.logger.Debugf("Send failed: %v", err)
		e.printServerTerminated()
		return errServerGone
	}
	return nil
}

func (e *Engine) printGreeting() {
	fmt.Fprintf(e.out, "Connected to Server %s on Port %s as Client %s", e.opts.Host, e.opts.Port, e.opts.Handle)
	if e.opts.HasID {
		fmt.Fprintf(e.out, " (ID %d)", e.opts.ClientID)
	}
	fmt.Fprintln(e.out)
}

func (e *Engine) prompt() {
	fmt.Fprint(e.out, prompt)
}

func (e *Engine) printServerTerminated() {
	fmt.Fprintln(e.out, "Server Terminated")
}

func (e *Engine) printHelp() {
	fmt.Fprint(e.out, `Commands:
  %M dest [text]            send a private message to dest
  %B [text]                 broadcast to every registered client
  %C k d1 ... dk [text]     send to k destinations (2 <= k <= 9)
  %L                        list registered handles
  %H                        show this help
`)
}
