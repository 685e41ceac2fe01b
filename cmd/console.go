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
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/dbgstub/internal/logging"
	"github.com/hitzhangjie/dbgstub/pkg/gdbremote"
)

const (
	consolePrompt  = "dbgstub> "
	consoleHistory = "~/.dbgstub_history"
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console <addr>",
	Short: "talk to a stub packet by packet",
	Long: `connect to a stub and send raw packets typed at the prompt, e.g.

	qSupported
	m401000,10
	monitor threads
	ctrl-c

every packet received is printed as it arrives.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nc, err := net.DialTimeout("tcp", args[0], 5*time.Second)
		if err != nil {
			return err
		}
		c := newConsole(nc, cmd.OutOrStdout(), logging.Wire(logger, cfg.Log), cfg.Log.Wire)
		return c.run()
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

// console is an interactive packet client.
type console struct {
	nc   net.Conn
	conn *gdbremote.Conn
	out  io.Writer

	// the next reply answers QStartNoAckMode or qRcmd
	noAckPending   *atomic.Bool
	monitorPending *atomic.Bool
}

func newConsole(nc net.Conn, out io.Writer, log *logrus.Entry, wire bool) *console {
	return &console{
		nc:             nc,
		conn:           gdbremote.NewConn(nc, log, gdbremote.WithWireTrace(wire)),
		out:            out,
		noAckPending:   atomic.NewBool(false),
		monitorPending: atomic.NewBool(false),
	}
}

func (c *console) run() error {
	done := make(chan struct{})
	go c.receive(done)
	defer func() {
		c.nc.Close()
		<-done
	}()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	history, _ := homedir.Expand(consoleHistory)
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(history); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		txt, err := line.Prompt(consolePrompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		txt = strings.TrimSpace(txt)
		if txt == "" {
			continue
		}
		line.AppendHistory(txt)

		quit, err := c.execute(txt)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

// execute sends what one input line asks for.
func (c *console) execute(txt string) (bool, error) {
	switch {
	case txt == "quit" || txt == "exit":
		return true, nil
	case txt == "ctrl-c" || txt == "^C":
		_, err := c.nc.Write([]byte{0x03})
		return false, err
	case strings.HasPrefix(txt, "monitor "):
		c.monitorPending.Store(true)
		cmd := strings.TrimSpace(strings.TrimPrefix(txt, "monitor "))
		return false, c.conn.WritePacket([]byte("qRcmd," + hex.EncodeToString([]byte(cmd))))
	case txt == "QStartNoAckMode":
		c.noAckPending.Store(true)
	}
	return false, c.conn.WritePacket([]byte(txt))
}

// receive prints every packet until the connection is gone.
func (c *console) receive(done chan<- struct{}) {
	defer close(done)
	for {
		pkt, err := c.conn.ReadPacket()
		if err != nil {
			if errors.Is(err, gdbremote.ErrChecksum) || errors.Is(err, gdbremote.ErrMalformed) {
				fmt.Fprintf(c.out, "!! %v\n", err)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				fmt.Fprintf(c.out, "connection: %v\n", err)
			}
			return
		}

		switch pkt.Kind {
		case gdbremote.PacketNack:
			if err := c.conn.Retransmit(); err != nil {
				fmt.Fprintf(c.out, "!! %v\n", err)
			}
		case gdbremote.PacketAck:
			c.conn.Acked()
		case gdbremote.PacketNotification:
			fmt.Fprintf(c.out, "<- %%%s\n", pkt.Payload)
		case gdbremote.PacketCommand:
			c.reply(pkt.Payload)
		}
	}
}

func (c *console) reply(payload []byte) {
	if c.noAckPending.CompareAndSwap(true, false) && string(payload) == "OK" {
		c.conn.SetAck(false)
	}
	if c.monitorPending.CompareAndSwap(true, false) {
		if out, err := hex.DecodeString(string(payload)); err == nil && len(out) > 0 {
			fmt.Fprint(c.out, string(out))
			return
		}
	}
	if len(payload) == 0 {
		fmt.Fprintln(c.out, "<- (empty)")
		return
	}
	fmt.Fprintf(c.out, "<- %s\n", payload)
}
