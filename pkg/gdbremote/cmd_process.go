package gdbremote

import (
	"bytes"
	"fmt"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

func init() {
	register("D", cmdDetach)
	register("k", cmdKill)
	register("vKill", cmdVKill)
	register("R", cmdRestart)
	register("vRun", cmdRun)
}

// cmdDetach answers D and D;pid. The session ends after the reply.
func cmdDetach(s *Session, args []byte) ([]byte, error) {
	if len(args) > 0 {
		pid, err := parseUint(bytes.TrimPrefix(args, []byte{';'}))
		if err != nil {
			return nil, err
		}
		if int(pid) != s.proc.Pid() {
			return nil, fmt.Errorf("detach %d: %w", pid, errcode.ProcessNotFound)
		}
	}
	s.waiting = false
	err := s.proc.Detach()
	s.done = true
	if target.IsInvariant(err) {
		return nil, err
	}
	if err != nil {
		s.log.Warnf("detach: %v", err)
	}
	return replyOK, nil
}

// kill kills the debuggee. Outside extended mode the session ends with it.
func (s *Session) kill() error {
	s.waiting = false
	s.stops, s.notifying = nil, false
	err := s.proc.Kill()
	if !s.extended {
		s.done = true
	}
	if err != nil {
		s.log.Warnf("kill: %v", err)
	}
	return err
}

// cmdKill answers k, which has no reply.
func cmdKill(s *Session, args []byte) ([]byte, error) {
	if err := s.kill(); target.IsInvariant(err) {
		return nil, err
	}
	return nil, errNoReply
}

func cmdVKill(s *Session, args []byte) ([]byte, error) {
	pid, err := parseUint(args)
	if err != nil {
		return nil, err
	}
	if int(pid) != s.proc.Pid() {
		return nil, fmt.Errorf("kill %d: %w", pid, errcode.ProcessNotFound)
	}
	if err := s.kill(); target.IsInvariant(err) {
		return nil, err
	}
	return replyOK, nil
}

// relaunch kills the current debuggee if it is still there and starts
// command again.
func (s *Session) relaunch(command string, args []string) error {
	launcher, ok := s.ops.(platform.Launcher)
	if !ok || command == "" {
		return fmt.Errorf("relaunch: %w", errcode.Unsupported)
	}
	if !s.proc.State().Terminal() {
		if err := s.proc.Kill(); err != nil {
			s.log.Warnf("kill before relaunch: %v", err)
		}
	} else if err := s.proc.Close(); err != nil {
		s.log.Warnf("close before relaunch: %v", err)
	}

	pid, err := launcher.Launch(command, args)
	if err != nil {
		return fmt.Errorf("launch %s: %w", command, s.ops.TranslateError(err))
	}
	proc, err := target.Attach(s.ops, pid, target.EXEC, s.cfg.ProcessOptions...)
	if err != nil {
		return err
	}

	s.proc = proc
	s.cfg.Command, s.cfg.Args = command, args
	s.log = s.log.WithField("pid", pid)
	s.gThread, s.cThread = threadAny, threadAny
	s.last, s.waiting = nil, false
	s.stops, s.notifying = nil, false
	s.log.Infof("relaunched %s", command)
	return nil
}

// cmdRestart answers R, extended mode only. R has no reply.
func cmdRestart(s *Session, args []byte) ([]byte, error) {
	if !s.extended {
		return nil, nil
	}
	if err := s.relaunch(s.cfg.Command, s.cfg.Args); err != nil {
		s.log.Errorf("restart: %v", err)
	}
	return nil, errNoReply
}

// cmdRun answers vRun;program[;arg]..., all hex encoded. An empty program
// reruns the current one. The reply is the initial stop.
func cmdRun(s *Session, args []byte) ([]byte, error) {
	if !s.extended {
		return nil, nil
	}
	command, argv := s.cfg.Command, s.cfg.Args
	if len(args) > 0 {
		fields := bytes.Split(args, []byte{';'})
		prog, err := decodeHex(fields[0])
		if err != nil {
			return nil, err
		}
		if len(prog) > 0 {
			command = string(prog)
		}
		if len(fields) > 1 {
			argv = argv[:0:0]
			for _, f := range fields[1:] {
				arg, err := decodeHex(f)
				if err != nil {
					return nil, err
				}
				argv = append(argv, string(arg))
			}
		}
	}

	if err := s.relaunch(command, argv); err != nil {
		return nil, err
	}
	return cmdStopReason(s, nil)
}
