package gdbremote

import (
	"bytes"
	"fmt"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

func init() {
	register("c", cmdContinue)
	register("C", cmdContinueSignal)
	register("s", cmdStep)
	register("S", cmdStepSignal)
	register("vCont?", cmdContActions)
	register("vCont", cmdCont)
	register("vCtrlC", cmdCtrlC)
	register("vStopped", cmdStopped)
}

// optAddress parses the optional resume address of c and s.
func optAddress(args []byte) (platform.Address, error) {
	if len(args) == 0 {
		return platform.Address{}, nil
	}
	v, err := parseUint(args)
	if err != nil {
		return platform.Address{}, err
	}
	return platform.AddressOf(v), nil
}

// signalAddress parses "sig[;addr]" of C and S.
func signalAddress(args []byte) (int, platform.Address, error) {
	sigStr, addrStr, _ := bytes.Cut(args, []byte{';'})
	sig, err := parseUint(sigStr)
	if err != nil {
		return 0, platform.Address{}, err
	}
	addr, err := optAddress(addrStr)
	if err != nil {
		return 0, platform.Address{}, err
	}
	return hostSignal(int(sig)), addr, nil
}

func cmdContinue(s *Session, args []byte) ([]byte, error) {
	addr, err := optAddress(args)
	if err != nil {
		return nil, err
	}
	return s.resume(false, 0, addr)
}

func cmdContinueSignal(s *Session, args []byte) ([]byte, error) {
	sig, addr, err := signalAddress(args)
	if err != nil {
		return nil, err
	}
	return s.resume(false, sig, addr)
}

func cmdStep(s *Session, args []byte) ([]byte, error) {
	addr, err := optAddress(args)
	if err != nil {
		return nil, err
	}
	return s.resume(true, 0, addr)
}

func cmdStepSignal(s *Session, args []byte) ([]byte, error) {
	sig, addr, err := signalAddress(args)
	if err != nil {
		return nil, err
	}
	return s.resume(true, sig, addr)
}

// resume runs the c, C, s and S commands. The signal and address only apply
// to the selected thread. A step only moves the selected thread; a continue
// without a selected thread lets every thread run.
func (s *Session) resume(step bool, sig int, addr platform.Address) ([]byte, error) {
	t, err := s.thread(s.cThread)
	if err != nil {
		return nil, err
	}

	before := s.runningThreads()
	switch {
	case step:
		err = s.proc.Step(t.Tid, sig, addr)
	case s.cThread != threadAny && s.cThread != threadAll:
		err = s.proc.Resume(t.Tid, sig, addr)
	default:
		err = s.proc.ResumeAllWith(t.Tid, sig, addr)
	}
	if err != nil {
		return s.resumeFailed(before, err)
	}
	return s.resumed()
}

// runningThreads returns the running state of every thread.
func (s *Session) runningThreads() map[int]bool {
	running := map[int]bool{}
	for _, t := range s.proc.Threads() {
		running[t.Tid] = t.State() == target.ThreadRunning
	}
	return running
}

// resumeFailed answers a resume that failed. In all-stop mode a thread the
// resume set running and that could not be suspended again still owes a
// stop reply, so the error is only logged and the reply deferred.
func (s *Session) resumeFailed(before map[int]bool, err error) ([]byte, error) {
	if s.nonStop || target.IsInvariant(err) {
		return nil, err
	}
	for _, t := range s.proc.Threads() {
		if t.State() == target.ThreadRunning && !before[t.Tid] {
			s.log.WithError(err).WithField("tid", t.Tid).Warn("resume failed with a thread left running")
			return s.resumed()
		}
	}
	return nil, err
}

func cmdContActions(s *Session, args []byte) ([]byte, error) {
	return []byte("vCont;c;C;s;S;t"), nil
}

// parseActions parses the action list of vCont, e.g. "s:1f;c".
func parseActions(args []byte) ([]target.Action, error) {
	var actions []target.Action
	for _, field := range bytes.Split(args, []byte{';'}) {
		spec, tidStr, hasTid := bytes.Cut(field, []byte{':'})
		if len(spec) == 0 {
			return nil, fmt.Errorf("vCont action %q: %w", field, errcode.InvalidArgument)
		}

		a := target.Action{Tid: target.AllThreads}
		if hasTid {
			tid, err := parseThreadID(tidStr)
			if err != nil {
				return nil, err
			}
			if tid != threadAny {
				a.Tid = tid
			}
		}

		switch spec[0] {
		case 'c', 's':
			if len(spec) != 1 {
				return nil, fmt.Errorf("vCont action %q: %w", field, errcode.InvalidArgument)
			}
		case 'C', 'S':
			sig, err := parseUint(spec[1:])
			if err != nil {
				return nil, err
			}
			a.Signal = hostSignal(int(sig))
		case 't':
		default:
			return nil, fmt.Errorf("vCont action %q: %w", field, errcode.Unsupported)
		}

		switch spec[0] {
		case 'c', 'C':
			a.Kind = target.ActionContinue
		case 's', 'S':
			a.Kind = target.ActionStep
		case 't':
			a.Kind = target.ActionStop
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func cmdCont(s *Session, args []byte) ([]byte, error) {
	actions, err := parseActions(args)
	if err != nil {
		return nil, err
	}

	running := s.runningThreads()
	if err := s.proc.Apply(actions); err != nil {
		return s.resumeFailed(running, err)
	}

	if s.nonStop {
		// threads stopped by 't' have no event of their own, report them
		// with signal 0
		for _, t := range s.proc.Threads() {
			if running[t.Tid] && t.Stopped() {
				out := target.Outcome{Kind: target.OutcomeStop, Tid: t.Tid}
				if err := s.stopped(out); err != nil {
					return nil, err
				}
			}
		}
	}
	return s.resumed()
}

func cmdCtrlC(s *Session, args []byte) ([]byte, error) {
	if err := s.interrupt(); err != nil {
		return nil, err
	}
	return replyOK, nil
}

// cmdStopped acknowledges the notified stop and returns the next queued
// one, OK once the queue is empty.
func cmdStopped(s *Session, args []byte) ([]byte, error) {
	if len(s.stops) > 0 {
		s.stops = s.stops[1:]
	}
	if len(s.stops) == 0 {
		s.notifying = false
		return replyOK, nil
	}
	return s.stopReply(s.stops[0]), nil
}
