package gdbremote

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

// handler answers one command. args is the packet after the command name
// and its delimiter. A nil reply with a nil error is sent as the empty
// reply, which tells the client the command is not supported.
type handler func(s *Session, args []byte) ([]byte, error)

var handlers = map[string]handler{}

func register(name string, h handler) {
	if _, ok := handlers[name]; ok {
		panic(fmt.Sprintf("gdbremote: command %q registered twice", name))
	}
	handlers[name] = h
}

// errNoReply is returned by handlers whose reply is sent later (resume in
// all-stop mode) or never (restart, kill).
var errNoReply = errors.New("no reply")

var replyOK = []byte("OK")

// Config configures a Session.
type Config struct {
	// NonStop starts the session in non-stop mode.
	NonStop bool

	// Command and Args are used to relaunch the debuggee in extended mode.
	Command string
	Args    []string

	// ProcessOptions are passed to target.Attach for relaunched processes.
	ProcessOptions []target.Option
}

// Session is the protocol state of one client connection. All methods run
// on the control goroutine.
type Session struct {
	conn *Conn
	ops  platform.Operations
	proc *target.Process
	log  *logrus.Entry
	cfg  Config

	gThread     int // thread for register and memory access
	cThread     int // thread for c and s
	extended    bool
	nonStop     bool
	listThreads bool

	last    *target.Outcome // what '?' reports
	waiting bool            // a stop reply is owed for c, s or vCont

	// non-stop notification queue, the head has been notified
	stops     []target.Outcome
	notifying bool

	done bool // detached or killed, the connection is closed after the reply
}

// NewSession returns a session controlling proc.
func NewSession(conn *Conn, proc *target.Process, cfg Config, log *logrus.Entry) *Session {
	return &Session{
		conn:    conn,
		ops:     proc.Ops(),
		proc:    proc,
		log:     log.WithFields(logrus.Fields{"component": "session", "pid": proc.Pid()}),
		cfg:     cfg,
		gThread: threadAny,
		cThread: threadAny,
		nonStop: cfg.NonStop,
	}
}

func (s *Session) Process() *target.Process {
	return s.proc
}

// Done reports whether the session has ended by detach or kill.
func (s *Session) Done() bool {
	return s.done
}

// splitCommand separates the command name from its arguments. Names of q,
// Q and v packets run up to the first ':', ';' or ','; every other command
// is named by its first byte.
func splitCommand(payload []byte) (string, []byte) {
	if len(payload) == 0 {
		return "", nil
	}
	switch payload[0] {
	case 'q', 'Q', 'v':
		if i := bytes.IndexAny(payload, ":;,"); i >= 0 {
			return string(payload[:i]), payload[i+1:]
		}
		return string(payload), nil
	}
	return string(payload[:1]), payload[1:]
}

// dispatch answers one command. Only fatal errors are returned: a broken
// invariant or a transport failure. Everything else becomes a reply.
func (s *Session) dispatch(payload []byte) error {
	name, args := splitCommand(payload)
	h, ok := handlers[name]
	if !ok {
		s.log.Debugf("unsupported command %q", truncate(payload))
		return s.reply(nil)
	}

	out, err := h(s, args)
	switch {
	case err == nil:
		return s.reply(out)
	case errors.Is(err, errNoReply):
		return nil
	case target.IsInvariant(err):
		s.log.Errorf("%s: %v", name, err)
		return err
	default:
		s.log.Debugf("%s: %v", name, err)
		return s.reply(errorReply(err))
	}
}

func (s *Session) reply(payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	return s.conn.WritePacket(payload)
}

// errorReply renders err as Exx.
func errorReply(err error) []byte {
	return fmt.Appendf(nil, "E%02x", errcode.Of(err).Errno()&0xff)
}

// protocolError answers a frame that could not be decoded.
func (s *Session) protocolError(err error) error {
	s.log.Debugf("protocol error: %v", err)
	if errors.Is(err, ErrChecksum) && s.conn.Ack() {
		// the client resends on '-'
		return nil
	}
	return s.reply(errorReply(fmt.Errorf("%v: %w", err, errcode.InvalidArgument)))
}

// thread resolves a thread id of an H selection. Any and all resolve to the
// thread of the last stop, or the lowest thread.
func (s *Session) thread(sel int) (*target.Thread, error) {
	if sel != threadAny && sel != threadAll {
		t, ok := s.proc.Thread(sel)
		if !ok {
			return nil, fmt.Errorf("thread %d: %w", sel, target.ErrThreadNotExisted)
		}
		return t, nil
	}
	if s.last != nil {
		if t, ok := s.proc.Thread(s.last.Tid); ok {
			return t, nil
		}
	}
	threads := s.proc.Threads()
	if len(threads) == 0 {
		return nil, target.ErrProcessGone
	}
	return threads[0], nil
}

// poll drains debug events while threads run and reports stops.
func (s *Session) poll() error {
	for s.proc.Running() {
		out, err := s.proc.Poll()
		if err != nil {
			if target.IsInvariant(err) {
				s.log.Errorf("poll: %v", err)
				return err
			}
			s.log.Warnf("poll: %v", err)
			if s.waiting {
				s.waiting = false
				return s.reply(errorReply(err))
			}
			return nil
		}

		switch out.Kind {
		case target.OutcomeNone:
			return nil
		case target.OutcomeHousekeeping, target.OutcomeThreadCreated, target.OutcomeThreadExited:
			s.log.WithField("tid", out.Tid).Debugf("%s", out.Kind)
			continue
		}

		if err := s.stopped(out); err != nil {
			return err
		}
		if !s.nonStop {
			return nil
		}
	}
	return nil
}

// stopped reports a stop, an exit or a termination to the client.
func (s *Session) stopped(out target.Outcome) error {
	s.log.WithField("tid", out.Tid).Infof("%s %s", out.Kind, out.Trap)
	s.last = &out
	if out.Kind == target.OutcomeStop {
		s.gThread = out.Tid
	}

	if s.nonStop {
		s.stops = append(s.stops, out)
		if s.notifying {
			return nil
		}
		s.notifying = true
		return s.conn.WriteNotification(append([]byte("Stop:"), s.stopReply(out)...))
	}

	if out.Kind == target.OutcomeStop {
		if err := s.proc.StopAll(); err != nil {
			s.log.Warnf("stop all threads: %v", err)
		}
	}
	if !s.waiting {
		return nil
	}
	s.waiting = false
	return s.reply(s.stopReply(out))
}

// interrupt handles ^C and vCtrlC.
func (s *Session) interrupt() error {
	if !s.proc.Running() {
		return nil
	}
	return s.proc.Interrupt()
}

// resumed finishes a successful resume: in all-stop mode the reply is the
// next stop, in non-stop mode it is OK.
func (s *Session) resumed() ([]byte, error) {
	if s.nonStop {
		return replyOK, nil
	}
	s.waiting = true
	return nil, errNoReply
}

// teardown lets the debuggee go when the connection ends: a launched
// process is killed, an attached one detached.
func (s *Session) teardown() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.proc.State().Terminal() {
		return s.proc.Close()
	}
	if s.proc.Kind() == target.ATTACH {
		return s.proc.Detach()
	}
	return s.proc.Kill()
}
