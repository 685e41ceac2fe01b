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
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/dbgstub/internal/config"
	"github.com/hitzhangjie/dbgstub/internal/logging"
)

var (
	cfgFile string

	cfg    *config.Config
	logger *logrus.Logger

	rootCtx, shutdown = context.WithCancel(context.Background())
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dbgstub",
	Short: "remote debugging stub for gdb and lldb",
	Long: `dbgstub controls one local process and serves it to a remote debugger
over the gdb remote serial protocol.

	dbgstub exec ./prog arg1 arg2
	dbgstub attach 1234
	gdb -ex 'target extended-remote localhost:2345'`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		os.Exit(1)
	}
}

// Shutdown cancels the running command. The debuggee is killed or detached
// before Execute returns.
func Shutdown() {
	shutdown()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dbgstub.yaml)")
	flags.String("listen", "localhost:2345", "address to accept the debugger on")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.Bool("log-wire", false, "log every packet sent and received")
	flags.Bool("compress", false, "run-length encode replies")
	flags.Int("max-retransmits", 3, "how often a rejected reply is sent again")
	flags.Bool("nonstop", false, "start in non-stop mode")
	flags.Duration("poll-interval", 10*time.Millisecond, "how often to look for debug events while threads run")
	flags.Int("memcache-lines", 256, "64 byte lines kept by the memory cache, 0 disables it")

	for key, flag := range map[string]string{
		config.KeyListen:         "listen",
		config.KeyLogLevel:       "log-level",
		config.KeyLogWire:        "log-wire",
		config.KeyCompress:       "compress",
		config.KeyMaxRetransmits: "max-retransmits",
		config.KeyNonStop:        "nonstop",
		config.KeyPollInterval:   "poll-interval",
		config.KeyMemCacheLines:  "memcache-lines",
	} {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(flag)))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	cfg, err = config.Load(viper.GetViper(), cfgFile)
	cobra.CheckErr(err)

	logger, err = logging.New(cfg.Log, os.Stderr)
	cobra.CheckErr(err)
	if cfg.File != "" {
		logger.Infof("using config file: %s", cfg.File)
	}
}

// usageError is returned for bad positional arguments.
func usageError(cmd *cobra.Command, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %s, usage: %s", cmd.Name(), fmt.Sprintf(format, args...), cmd.UseLine())
}
