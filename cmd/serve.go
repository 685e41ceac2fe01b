/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/dbgstub/internal/logging"
	"github.com/hitzhangjie/dbgstub/pkg/gdbremote"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

// debuggee describes the process handed to the debugger.
type debuggee struct {
	pid     int
	kind    target.Kind
	command string
	args    []string
}

// serve waits for one debugger on ln and serves it until it goes away. The
// debuggee is killed or detached before serve returns.
func serve(ctx context.Context, b backend, ln net.Listener, d debuggee) error {
	log := logger.WithField("pid", d.pid)
	opts := []target.Option{
		target.WithLogger(logger.WithField("component", "target")),
		target.WithCacheLines(cfg.MemCacheLines),
	}
	proc, err := target.Attach(b, d.pid, d.kind, opts...)
	if err != nil {
		if d.kind == target.EXEC {
			return errors.Join(err, b.Kill(d.pid))
		}
		return errors.Join(err, b.Detach(d.pid))
	}

	log.Infof("waiting for the debugger on %s", ln.Addr())
	c, err := gdbremote.Accept(ctx, ln)
	if err != nil {
		return errors.Join(err, release(proc))
	}
	log.Infof("debugger connected from %s", c.RemoteAddr())

	conn := gdbremote.NewConn(c, logging.Wire(logger, cfg.Log),
		gdbremote.WithCompression(cfg.Protocol.Compress),
		gdbremote.WithMaxRetransmits(cfg.Protocol.MaxRetransmits),
		gdbremote.WithWireTrace(cfg.Log.Wire),
	)
	sess := gdbremote.NewSession(conn, proc, gdbremote.Config{
		NonStop:        cfg.Protocol.NonStop,
		Command:        d.command,
		Args:           d.args,
		ProcessOptions: opts,
	}, logrus.NewEntry(logger))

	err = gdbremote.NewServer(sess, cfg.PollInterval, log).Serve(ctx)
	if target.IsInvariant(err) {
		return fmt.Errorf("session aborted: %w", err)
	}
	return err
}

// release lets the process go when no debugger ever came.
func release(proc *target.Process) error {
	if proc.Kind() == target.ATTACH {
		return proc.Detach()
	}
	return proc.Kill()
}

func listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	return ln, nil
}
