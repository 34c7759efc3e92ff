// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gameroom CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gameroom",
		Short: "gameroom - a host for sandboxed multiplayer game plugins",
		Long: `gameroom runs multiplayer game rooms whose rules live in sandboxed
WebAssembly or Lua plugins. The host owns connections, room state,
per-room ordering and durable deferred tasks.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/gameroom/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewPluginCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
