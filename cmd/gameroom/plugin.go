// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gameroom/internal/plugin"
	pluginlua "github.com/holomush/gameroom/internal/plugin/lua"
	"github.com/holomush/gameroom/internal/registry"
	"github.com/holomush/gameroom/internal/wasm"
)

// NewPluginCmd creates the plugin subcommand group.
func NewPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Inspect and list plugin packages",
	}
	cmd.AddCommand(newPluginInspectCmd())
	cmd.AddCommand(newPluginListCmd())
	cmd.AddCommand(newPluginSchemaCmd())
	return cmd
}

func newPluginInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <module>",
		Short: "Load a module and print its metadata and exported hooks",
		Long: `Load a .wasm or .lua module in a sandbox without host capabilities
and print its pluginMeta and the hooks it exports.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPluginInspect(cmd.Context(), cmd, args[0])
		},
	}
}

func runPluginInspect(ctx context.Context, cmd *cobra.Command, path string) error {
	kind, err := plugin.KindFromPath(path)
	if err != nil {
		return err
	}
	module, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return oops.Code("PLUGIN_READ_FAILED").With("path", path).Wrap(err)
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	meta, hooks, err := rt.Inspect(ctx, kind, module)
	if err != nil {
		return err
	}

	cmd.Printf("name:    %s\n", meta.Name)
	cmd.Printf("version: %s\n", meta.Version)
	cmd.Printf("kind:    %s\n", kind)
	cmd.Printf("digest:  %s\n", registry.Digest(module))
	cmd.Printf("hooks:   %s\n", strings.Join(hooks.Names(), ", "))
	return nil
}

func newPluginListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List valid packages in the plugin directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runPluginList(cmd.Context(), cmd, cfg.Plugins.Dir)
		},
	}
	cmd.Flags().String("plugins-dir", "", "plugin package directory")
	return cmd
}

func runPluginList(ctx context.Context, cmd *cobra.Command, dir string) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	reg := registry.NewDirRegistry(dir, rt)
	ids, err := reg.Discover(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		cmd.Printf("no plugins in %s\n", dir)
		return nil
	}
	for _, id := range reg.List() {
		pkg, err := reg.FetchPackage(ctx, id)
		if err != nil {
			return err
		}
		cmd.Printf("%-20s %-10s %-5s %s\n", pkg.ID, pkg.Meta.Version, pkg.Kind, pkg.Digest[:12])
	}
	return nil
}

func newPluginSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for plugin.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := registry.GenerateSchema()
			if err != nil {
				return err
			}
			cmd.Println(string(schema))
			return nil
		},
	}
}

// newRuntime builds a runtime with both sandboxes.
func newRuntime(ctx context.Context) (*plugin.Runtime, error) {
	wasmLoader, err := wasm.NewLoader(ctx)
	if err != nil {
		return nil, err
	}
	return plugin.NewRuntime(map[plugin.Kind]plugin.Loader{
		plugin.KindLua:  pluginlua.NewLoader(),
		plugin.KindWasm: wasmLoader,
	}), nil
}
