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
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/dbgstub/pkg/target"
)

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec <prog> [args...]",
	Short: "launch a program and serve it to the debugger",
	Long: `launch a program stopped at its first instruction and serve it to the
debugger. The program is killed when the debugger goes away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return usageError(cmd, "program missing")
		}

		b, err := newBackend(logger.WithField("component", "platform"))
		if err != nil {
			return err
		}
		defer b.Close()

		// listen first, a busy port should not cost a launched process
		ln, err := listen()
		if err != nil {
			return err
		}

		pid, err := b.Launch(args[0], args[1:])
		if err != nil {
			ln.Close()
			return err
		}
		return serve(cmd.Context(), b, ln, debuggee{
			pid:     pid,
			kind:    target.EXEC,
			command: args[0],
			args:    args[1:],
		})
	},
}

func init() {
	execCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(execCmd)
}
