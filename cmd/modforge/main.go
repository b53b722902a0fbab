package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/erikgeiser/promptkit/selection"
	"github.com/erikgeiser/promptkit/textinput"
	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modforge/modforge"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		modforge.Logger().Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modforge",
		Short:         "Incremental plugin build system for game-server resources",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Bare invocation builds; --watch flips into dev mode.
			if viper.GetBool("watch") {
				return runDev()
			}
			return runBuild()
		},
	}

	pf := root.PersistentFlags()
	pf.BoolP("watch", "w", false, "watch the plugin tree and rebuild incrementally")
	pf.BoolP("reload", "r", false, "hot-restart affected resources after rebuilds")
	pf.StringP("plugins-dir", "p", "plugins", "plugins source root")
	pf.StringP("dist-dir", "d", "dist", "build staging directory")
	pf.String("resources-dir", "", "live resource root (default derived from server name)")
	pf.Bool("no-clean", false, "keep the staging directory from the previous build")
	pf.StringP("log-level", "l", "info", "log level: verbose|info|warn|error")
	pf.Bool("stop-on-error", false, "fail fast on the first plugin-scoped error")
	pf.Int("port", 8080, "dev status server port (watch mode)")
	for _, name := range []string{
		"watch", "reload", "plugins-dir", "dist-dir", "resources-dir",
		"no-clean", "log-level", "stop-on-error", "port",
	} {
		if err := viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:           "build",
			Short:         "Build all plugins once",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBuild()
			},
		},
		&cobra.Command{
			Use:           "dev",
			Aliases:       []string{"watch"},
			Short:         "Build, then watch and rebuild incrementally",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDev()
			},
		},
		&cobra.Command{
			Use:           "init",
			Short:         "Scaffold a new plugin",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runInit()
			},
		},
	)
	return root
}

func setup() (*modforge.Config, error) {
	cfg, err := modforge.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := modforge.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBuild() error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	builder := modforge.NewBuilder(cfg)
	if err := builder.BuildAll(); err != nil {
		return err
	}
	return nil
}

func runDev() error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	var reload modforge.Reloader
	if cfg.Reload {
		client, err := modforge.NewReloadClient(cfg.ReloadHost, cfg.ReloadPort, cfg.ReloadToken)
		if err != nil {
			return err
		}
		reload = client
	}

	builder := modforge.NewBuilder(cfg)
	if err := builder.BuildAll(); err != nil {
		// The watcher keeps running; the next change gets another shot.
		modforge.Logger().Error("initial build failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := modforge.NewOrchestrator(builder, reload, modforge.DefaultWatchConfig())
	server := modforge.NewDevServer(builder, cfg.Port)
	orch.OnBuild(server.NotifyBuild)
	go func() {
		if err := server.Serve(ctx); err != nil {
			modforge.Logger().Error("dev server stopped", "error", err)
		}
	}()

	color.Printf("Dev server on <cyan>:%d</>, watching <cyan>%s</>\n", cfg.Port, cfg.PluginsDir)
	return orch.Run(ctx)
}

var pluginTemplates = map[string]struct {
	descriptor string
	entry      string
	source     string
}{
	"client": {
		descriptor: `{
  "name": %q,
  "version": "0.1.0",
  "client_scripts": ["client/*.ts"]
}
`,
		entry:  "client/main.ts",
		source: "// client entry\n",
	},
	"server": {
		descriptor: `{
  "name": %q,
  "version": "0.1.0",
  "server_scripts": ["server/*.ts"]
}
`,
		entry:  "server/main.ts",
		source: "// server entry\n",
	},
	"shared": {
		descriptor: `{
  "name": %q,
  "version": "0.1.0",
  "shared_scripts": ["shared/*.ts"]
}
`,
		entry:  "shared/main.ts",
		source: "// shared entry\n",
	},
}

func runInit() error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	nameInput := textinput.New("Plugin name:")
	nameInput.Placeholder = "my-plugin"
	name, err := nameInput.RunPrompt()
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("plugin name is required")
	}

	kindSel := selection.New("Script category:", []string{"client", "server", "shared"})
	kind, err := kindSel.RunPrompt()
	if err != nil {
		return err
	}

	dir, err := scaffoldPlugin(cfg.PluginsDir, name, kind)
	if err != nil {
		return err
	}
	color.Printf("Scaffolded <green>%s</> at %s\n", name, dir)
	return nil
}

// scaffoldPlugin writes a minimal plugin of the given script category under
// pluginsDir and returns its directory.
func scaffoldPlugin(pluginsDir, name, kind string) (string, error) {
	tmpl, ok := pluginTemplates[kind]
	if !ok {
		return "", fmt.Errorf("unknown script category: %s", kind)
	}
	dir := filepath.Join(pluginsDir, name)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("plugin directory already exists: %s", dir)
	}
	entry := filepath.Join(dir, filepath.FromSlash(tmpl.entry))
	if err := os.MkdirAll(filepath.Dir(entry), 0750); err != nil {
		return "", err
	}
	descriptor := fmt.Sprintf(tmpl.descriptor, name)
	if err := os.WriteFile(filepath.Join(dir, modforge.DescriptorName), []byte(descriptor), 0640); err != nil {
		return "", err
	}
	if err := os.WriteFile(entry, []byte(tmpl.source), 0640); err != nil {
		return "", err
	}
	return dir, nil
}
