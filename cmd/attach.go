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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/dbgstub/pkg/target"
)

// attachCmd represents the attach command
var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "attach to a running process and serve it to the debugger",
	Long: `attach to a running process and serve it to the debugger. The process
is detached, not killed, when the debugger goes away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usageError(cmd, "want exactly one pid")
		}
		pid, err := strconv.Atoi(args[0])
		if err != nil || pid <= 0 {
			return usageError(cmd, "invalid pid %q", args[0])
		}

		b, err := newBackend(logger.WithField("component", "platform"))
		if err != nil {
			return err
		}
		defer b.Close()

		ln, err := listen()
		if err != nil {
			return err
		}
		if err := b.Attach(pid); err != nil {
			ln.Close()
			return err
		}
		return serve(cmd.Context(), b, ln, debuggee{pid: pid, kind: target.ATTACH})
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
