package gdbremote

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
)

func init() {
	register("qRcmd", cmdMonitor)
}

const (
	cmdGroupAnnotation = "cmd_group_annotation"

	cmdGroupBreakpoints = "1-breaks"
	cmdGroupInfo        = "2-info"
	cmdGroupOthers      = "3-other"
	cmdGroupCobra       = "other"

	cmdGroupDelimiter = "-"
)

// cmdMonitor answers qRcmd,<hex command>. The output is returned hex
// encoded in the reply, OK when there is none.
func cmdMonitor(s *Session, args []byte) ([]byte, error) {
	line, err := decodeHex(args)
	if err != nil {
		return nil, err
	}

	out := &bytes.Buffer{}
	root := s.monitorCommands(out)
	root.SetArgs(strings.Fields(string(line)))
	if err := root.Execute(); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}

	if out.Len() == 0 {
		return replyOK, nil
	}
	return appendHex(nil, out.Bytes()), nil
}

// monitorCommands builds the command tree of one monitor request.
func (s *Session) monitorCommands(out *bytes.Buffer) *cobra.Command {
	root := &cobra.Command{
		Use:           "monitor",
		Short:         "dbgstub monitor commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(out)
	root.SetErr(out)
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, cmd.Short)
		fmt.Fprintln(w)
		if cmd != root {
			fmt.Fprintln(w, cmd.UseLine())
			fmt.Fprint(w, cmd.Flags().FlagUsages())
			return
		}
		fmt.Fprint(w, helpMessageByGroups(cmd))
	})

	threadsCmd := &cobra.Command{
		Use:     "threads",
		Short:   "list threads and their state",
		Aliases: []string{"t"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupInfo,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range s.proc.Threads() {
				trap, err := t.Trap()
				reason := "-"
				if err == nil {
					reason = trap.String()
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", t.Tid, t.State(), reason)
			}
			return tw.Flush()
		},
	}

	breaksCmd := &cobra.Command{
		Use:     "breakpoints",
		Short:   "list breakpoints and watchpoints",
		Aliases: []string{"bs", "breaks"},
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupBreakpoints,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, bp := range s.proc.Breakpoints() {
				fmt.Fprintf(tw, "%d\t%s\t%#x\t%d\n", bp.ID, bp.Kind, bp.Addr, bp.Size)
			}
			return tw.Flush()
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "show the debuggee",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupInfo,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := s.proc.GetInfo()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "pid:    %d\n", info.Pid)
			fmt.Fprintf(w, "name:   %s\n", info.Name)
			fmt.Fprintf(w, "args:   %s\n", strings.Join(info.Args, " "))
			fmt.Fprintf(w, "kind:   %s\n", info.Kind)
			fmt.Fprintf(w, "state:  %s\n", info.State)
			if info.State.Terminal() {
				fmt.Fprintf(w, "status: %d\n", info.ExitStatus)
			}
			return nil
		},
	}

	disassCmd := &cobra.Command{
		Use:     "disass [address]",
		Short:   "disassemble machine instructions",
		Aliases: []string{"dis", "disas"},
		Args:    cobra.MaximumNArgs(1),
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupInfo,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				max, _    = cmd.Flags().GetUint64("max")
				syntax, _ = cmd.Flags().GetString("syntax")
			)
			addr, err := s.disassAddress(args)
			if err != nil {
				return err
			}
			return s.disassemble(cmd, addr, max, syntax)
		},
	}
	disassCmd.Flags().Uint64P("max", "n", 10, "number of instructions")
	disassCmd.Flags().StringP("syntax", "s", "gnu", "syntax: go, gnu, intel")

	logCmd := &cobra.Command{
		Use:   "log [level]",
		Short: "show or set the log level",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := s.log.Logger
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), logger.GetLevel())
				return nil
			}
			lvl, err := logrus.ParseLevel(args[0])
			if err != nil {
				return err
			}
			logger.SetLevel(lvl)
			fmt.Fprintf(cmd.OutOrStdout(), "log level set to %s\n", lvl)
			return nil
		},
	}

	root.AddCommand(threadsCmd, breaksCmd, infoCmd, disassCmd, logCmd)
	return root
}

// disassAddress returns the explicit address, or the address of the last
// stop.
func (s *Session) disassAddress(args []string) (uint64, error) {
	if len(args) == 1 {
		addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
		if err != nil {
			return 0, fmt.Errorf("address %q: %w", args[0], errcode.InvalidArgument)
		}
		return addr, nil
	}
	if s.last != nil && s.last.Trap.Address.Valid() {
		return s.last.Trap.Address.Value, nil
	}
	return 0, fmt.Errorf("no address given and the last stop has none: %w", errcode.InvalidArgument)
}

func (s *Session) disassemble(cmd *cobra.Command, addr, max uint64, syntax string) error {
	// breakpoints are masked by ReadMemory
	dat, err := s.proc.ReadMemory(addr, 1024)
	if err != nil {
		return err
	}
	if len(dat) == 0 {
		return fmt.Errorf("peek text at %#x: %w", addr, errcode.InvalidAddress)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 8, ' ', 0)
	offset := uint64(0)
	for count := uint64(0); count < max && offset < uint64(len(dat)); count++ {
		inst, err := x86asm.Decode(dat[offset:], 64)
		if err != nil {
			fmt.Fprintf(tw, "%#x:\t% x\t(bad)\n", addr+offset, dat[offset:offset+1])
			offset++
			continue
		}

		asm, err := instSyntax(inst, addr+offset, syntax)
		if err != nil {
			return err
		}
		end := offset + uint64(inst.Len)
		fmt.Fprintf(tw, "%#x:\t% x\t%s\n", addr+offset, dat[offset:end], asm)
		offset = end
	}
	return tw.Flush()
}

func instSyntax(inst x86asm.Inst, pc uint64, syntax string) (string, error) {
	pc += uint64(inst.Len)
	switch syntax {
	case "go":
		return x86asm.GoSyntax(inst, pc, nil), nil
	case "gnu":
		return x86asm.GNUSyntax(inst, pc, nil), nil
	case "intel":
		return x86asm.IntelSyntax(inst, pc, nil), nil
	default:
		return "", fmt.Errorf("asm syntax %q: %w", syntax, errcode.InvalidArgument)
	}
}

// helpMessageByGroups lists the commands grouped by their annotation.
func helpMessageByGroups(cmd *cobra.Command) string {
	// key:group, val:sorted commands in same group
	groups := map[string][]string{}
	for _, c := range cmd.Commands() {
		groupName, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			groupName = cmdGroupCobra
		}
		groups[groupName] = append(groups[groupName], fmt.Sprintf("  %-16s:%s", c.Name(), c.Short))
	}

	if len(groups[cmdGroupCobra]) != 0 {
		groups[cmdGroupOthers] = append(groups[cmdGroupOthers], groups[cmdGroupCobra]...)
	}
	delete(groups, cmdGroupCobra)

	groupNames := make([]string, 0, len(groups))
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	buf := bytes.Buffer{}
	for _, groupName := range groupNames {
		commands := groups[groupName]
		sort.Strings(commands)

		group := strings.Split(groupName, cmdGroupDelimiter)[1]
		buf.WriteString(fmt.Sprintf("- [%s]\n", group))
		for _, c := range commands {
			buf.WriteString(c + "\n")
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
