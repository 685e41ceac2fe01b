package gdbremote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// inbound is one result of the reader goroutine.
type inbound struct {
	pkt Packet
	err error
}

// Server runs one session over one connection.
//
// A reader goroutine only decodes packets; everything else, the session and
// the debuggee, is driven by the control goroutine. While threads run, the
// control goroutine polls for debug events every PollInterval.
type Server struct {
	sess         *Session
	conn         *Conn
	log          *logrus.Entry
	pollInterval time.Duration
}

// NewServer returns a server for sess.
func NewServer(sess *Session, pollInterval time.Duration, log *logrus.Entry) *Server {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &Server{
		sess:         sess,
		conn:         sess.conn,
		log:          log.WithField("component", "server"),
		pollInterval: pollInterval,
	}
}

// Accept waits for the first client on ln and closes ln.
func Accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	c, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return c, nil
}

// Serve runs until the client detaches, kills the debuggee, disconnects or
// ctx is cancelled. The debuggee is let go in every case: a launched
// process is killed and an attached one detached, unless the client already
// did so.
//
// A broken invariant ends the session without another byte being written;
// it is returned after the debuggee has been torn down.
func (srv *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	packets := make(chan inbound)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.read(ctx, packets)
	})
	g.Go(func() error {
		defer cancel()
		defer srv.conn.Close()
		err := srv.control(ctx, packets)
		if terr := srv.sess.teardown(); terr != nil {
			srv.log.Warnf("teardown: %v", terr)
			if err == nil {
				err = terr
			}
		}
		return err
	})
	return g.Wait()
}

// read decodes packets until the connection fails. Errors after the control
// loop has stopped are not reported.
func (srv *Server) read(ctx context.Context, packets chan<- inbound) error {
	for {
		pkt, err := srv.conn.ReadPacket()
		select {
		case packets <- inbound{pkt: pkt, err: err}:
		case <-ctx.Done():
			return nil
		}
		if err != nil && !isProtocolError(err) {
			return nil
		}
	}
}

func (srv *Server) control(ctx context.Context, packets <-chan inbound) error {
	ticker := time.NewTicker(srv.pollInterval)
	defer ticker.Stop()

	for !srv.sess.Done() {
		var tick <-chan time.Time
		if srv.sess.proc.Running() {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			return nil

		case <-tick:
			if err := srv.sess.poll(); err != nil {
				return err
			}

		case in := <-packets:
			if err := srv.handle(in); err != nil {
				if errors.Is(err, io.EOF) {
					srv.log.Info("client disconnected")
					return nil
				}
				return err
			}
		}
	}
	return nil
}

func (srv *Server) handle(in inbound) error {
	if in.err != nil {
		if isProtocolError(in.err) {
			return srv.sess.protocolError(in.err)
		}
		return in.err
	}

	switch in.pkt.Kind {
	case PacketCommand:
		return srv.sess.dispatch(in.pkt.Payload)
	case PacketInterrupt:
		if err := srv.sess.interrupt(); err != nil {
			srv.log.Warnf("interrupt: %v", err)
		}
	case PacketAck:
		srv.conn.Acked()
	case PacketNack:
		if err := srv.conn.Retransmit(); err != nil {
			if !errors.Is(err, ErrTooManyAttempts) {
				return err
			}
			srv.log.Warn("client keeps rejecting the last reply, giving up on it")
		}
	case PacketNotification:
		srv.log.Debugf("ignore notification from client: %s", truncate(in.pkt.Payload))
	}
	return nil
}
