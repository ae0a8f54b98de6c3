// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// rvkernel boots the hosted kernel simulator: it mounts the given disk
// image as KTFS over the simulated VirtIO block device, loads the
// configured user program, and stops at the point a hardware trap-exit
// would transfer control to user mode.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rvos-dev/rvkernel/cfg"
	"github.com/rvos-dev/rvkernel/internal/kernel"
	"github.com/rvos-dev/rvkernel/internal/logger"
	"github.com/rvos-dev/rvkernel/internal/metrics"
)

var (
	cfgFile string
	bindErr error
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "rvkernel [flags] disk_image",
	Short: "Boot the rvkernel simulator over a KTFS disk image",
	Long: `rvkernel is a hosted single-hart kernel simulator. It mounts the given
disk image as a KTFS filesystem, loads the configured user program from it,
and reports the resulting entry state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config file %q: %w", cfgFile, err)
			}
		}

		c, err := cfg.Load(v)
		if err != nil {
			return err
		}
		c.Disk = args[0]

		closer, err := logger.Init(c.Log)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		defer closer.Close()

		if c.Metrics.Addr != "" {
			go func() {
				if err := metrics.Serve(c.Metrics.Addr, kernel.Registry()); err != nil {
					logger.Errorf("metrics server on %s: %v", c.Metrics.Addr, err)
				}
			}()
		}

		k, tf, err := kernel.Boot(c)
		if err != nil {
			return err
		}
		logger.Infof("rvkernel: boot complete, user entry=%#x sp=%#x", tf.Epc, tf.Sp)
		return k.Shutdown()
	},
}

func init() {
	cobra.OnInitialize(func() {
		v.SetEnvPrefix("rvkernel")
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
		v.AutomaticEnv()
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	flags.String("program", "shell.elf", "Name of the user program to exec at boot")
	flags.Int("num-threads", 16, "Thread count (validated only; the thread table size is fixed)")
	flags.Int("num-procs", 8, "Process table size")
	flags.Int("cache-slots", 64, "Block cache slot count (validated only; the cache size is fixed)")
	flags.Int("quantum-millis", 20, "Preemption quantum in milliseconds (validated only; no timer reads it)")
	flags.String("log.severity", "INFO", "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR or OFF")
	flags.String("log.format", "text", "Log format: text or json")
	flags.String("log.file-path", "", "Rotate logs to this file instead of stderr")
	flags.String("metrics.addr", "", "Serve Prometheus metrics at this address (empty disables)")
	bindErr = v.BindPFlags(flags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
