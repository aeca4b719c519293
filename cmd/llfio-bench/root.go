// Copyright 2015 Google Inc. All Rights Reserved.
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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	metricsAddr string
	bindErr     error
)

var rootCmd = &cobra.Command{
	Use:   "llfio-bench",
	Short: "Exercise llfio's directory enumeration, tree removal, worker pool, and key-value store",
}

// Execute runs the root command, mirroring the teacher pack's
// cobra-plus-viper CLI entry point (gcsfuse's cmd.Execute).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file overriding any flag below")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090) for the duration of the command")
	bindErr = viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(enumerateCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(kvCmd)
	rootCmd.AddCommand(poolCmd)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		bindErr = fmt.Errorf("reading config file %s: %w", cfgFile, err)
	}
}
