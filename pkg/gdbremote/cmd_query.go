package gdbremote

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

const packetSize = 0x4000

func init() {
	register("qSupported", cmdSupported)
	register("QStartNoAckMode", cmdStartNoAckMode)
	register("QNonStop", cmdNonStop)
	register("QListThreadsInStopReply", cmdListThreadsInStopReply)
	register("qC", cmdCurrentThread)
	register("qfThreadInfo", cmdThreadInfoFirst)
	register("qsThreadInfo", cmdThreadInfoNext)
	register("qAttached", cmdAttached)
	register("qThreadExtraInfo", cmdThreadExtraInfo)
	register("?", cmdStopReason)
	register("H", cmdSetThread)
	register("T", cmdThreadAlive)
	register("!", cmdExtendedMode)
}

func cmdSupported(s *Session, args []byte) ([]byte, error) {
	features := []string{
		fmt.Sprintf("PacketSize=%x", packetSize),
		"QStartNoAckMode+",
		"QNonStop+",
		"swbreak+",
		"hwbreak+",
		"vContSupported+",
	}
	return []byte(strings.Join(features, ";")), nil
}

func cmdStartNoAckMode(s *Session, args []byte) ([]byte, error) {
	// switched off before OK goes out, the client stops acking after it
	s.conn.SetAck(false)
	return replyOK, nil
}

func cmdNonStop(s *Session, args []byte) ([]byte, error) {
	switch string(args) {
	case "0":
		s.nonStop = false
		s.stops, s.notifying = nil, false
	case "1":
		s.nonStop = true
	default:
		return nil, fmt.Errorf("QNonStop:%s: %w", args, errcode.InvalidArgument)
	}
	s.log.Infof("non-stop mode: %v", s.nonStop)
	return replyOK, nil
}

func cmdListThreadsInStopReply(s *Session, args []byte) ([]byte, error) {
	s.listThreads = true
	return replyOK, nil
}

func cmdCurrentThread(s *Session, args []byte) ([]byte, error) {
	t, err := s.thread(s.gThread)
	if err != nil {
		return nil, err
	}
	return []byte("QC" + formatThreadID(t.Tid)), nil
}

func cmdThreadInfoFirst(s *Session, args []byte) ([]byte, error) {
	threads := s.proc.Threads()
	if len(threads) == 0 {
		return []byte("l"), nil
	}
	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, formatThreadID(t.Tid))
	}
	return []byte("m" + strings.Join(ids, ",")), nil
}

func cmdThreadInfoNext(s *Session, args []byte) ([]byte, error) {
	return []byte("l"), nil
}

func cmdAttached(s *Session, args []byte) ([]byte, error) {
	if s.proc.Kind() == target.ATTACH {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func cmdThreadExtraInfo(s *Session, args []byte) ([]byte, error) {
	tid, err := parseThreadID(args)
	if err != nil {
		return nil, err
	}
	t, err := s.thread(tid)
	if err != nil {
		return nil, err
	}

	info := t.State().String()
	if trap, err := t.Trap(); err == nil && trap.Event != platform.EventNone {
		info += " " + trap.Event.String()
	}
	return appendHex(nil, []byte(info)), nil
}

// cmdStopReason answers '?'. In non-stop mode every stopped thread is
// queued and the first is returned; the rest are fetched with vStopped.
func cmdStopReason(s *Session, args []byte) ([]byte, error) {
	if s.nonStop {
		s.stops = s.stops[:0]
		for _, t := range s.proc.Threads() {
			trap, err := t.Trap()
			if err != nil {
				continue
			}
			s.stops = append(s.stops, target.Outcome{Kind: target.OutcomeStop, Tid: t.Tid, Trap: trap})
		}
		if len(s.stops) == 0 {
			s.notifying = false
			return replyOK, nil
		}
		s.notifying = true
		return s.stopReply(s.stops[0]), nil
	}

	if s.last != nil {
		return s.stopReply(*s.last), nil
	}
	t, err := s.thread(threadAny)
	if err != nil {
		return nil, err
	}
	// nothing reported yet: the debuggee sits at its initial stop
	trap, err := t.Trap()
	if err != nil {
		return nil, err
	}
	if trap.Event == platform.EventNone {
		trap = platform.Trap{Event: platform.EventTrap, Signal: platform.SIGTRAP}
	}
	return s.stopReply(target.Outcome{Kind: target.OutcomeStop, Tid: t.Tid, Trap: trap}), nil
}

// cmdSetThread answers Hg<tid> and Hc<tid>.
func cmdSetThread(s *Session, args []byte) ([]byte, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("H%s: %w", args, errcode.InvalidArgument)
	}
	tid, err := parseThreadID(args[1:])
	if err != nil {
		return nil, err
	}
	if tid != threadAny && tid != threadAll {
		if _, ok := s.proc.Thread(tid); !ok {
			return nil, fmt.Errorf("thread %d: %w", tid, target.ErrThreadNotExisted)
		}
	}

	switch args[0] {
	case 'g':
		s.gThread = tid
	case 'c':
		s.cThread = tid
	default:
		return nil, fmt.Errorf("H%c: %w", args[0], errcode.InvalidArgument)
	}
	return replyOK, nil
}

func cmdThreadAlive(s *Session, args []byte) ([]byte, error) {
	tid, err := parseThreadID(bytes.TrimSpace(args))
	if err != nil {
		return nil, err
	}
	t, ok := s.proc.Thread(tid)
	if !ok || t.State() == target.ThreadTerminated {
		return nil, fmt.Errorf("thread %d: %w", tid, target.ErrThreadNotExisted)
	}
	return replyOK, nil
}

func cmdExtendedMode(s *Session, args []byte) ([]byte, error) {
	s.extended = true
	return replyOK, nil
}
