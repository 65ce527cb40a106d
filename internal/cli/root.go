// Package cli is the reference consumer of the command boundary: a cobra
// command tree that invokes dispatcher commands and renders events. It
// holds no game state of its own.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blocksmiths/launchcore/internal/command"
	"github.com/blocksmiths/launchcore/internal/config"
	"github.com/blocksmiths/launchcore/internal/events"
)

var (
	verbose    bool
	dataDir    string
	dispatcher *command.Dispatcher
)

var rootCmd = &cobra.Command{
	Use:   "launchcore",
	Short: "Minecraft launcher core runtime",
	Long:  "launchcore acquires game binaries, assembles a bootable Java process, supervises its lifecycle, and installs .mrpack modpacks.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if dataDir != "" {
			cfg = config.DefaultConfig()
			cfg.DataDir = dataDir
			cfg.InstancesDir = filepath.Join(dataDir, "instances")
			cfg.AssetsDir = filepath.Join(dataDir, "assets")
			cfg.LibrariesDir = filepath.Join(dataDir, "libraries")
			cfg.VersionsDir = filepath.Join(dataDir, "versions")
			cfg.JavaDir = filepath.Join(dataDir, "java")
			cfg.CacheDir = filepath.Join(dataDir, "cache")
		}

		dispatcher, err = command.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("initializing core: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dispatcher != nil {
			dispatcher.Close()
		}
	},
}

// Execute runs the CLI.
func Execute() {
	if !term.IsTerminal(int(os.Stdout.Fd())) || os.Getenv("NO_COLOR") != "" {
		pterm.DisableStyling()
		pterm.RawOutput = true
	}
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging and raw game output")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the game data directory")
}

// renderEvents consumes bus events until stop is closed, rendering
// progress and game output.
func renderEvents(bus *events.Bus, stop <-chan struct{}) {
	ch, cancel := bus.Subscribe(256)
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start("working")
	defer spinner.Stop()

	for {
		select {
		case <-stop:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			switch e := evt.(type) {
			case events.OperationEvent:
				op := e.Operation
				if op.Total > 0 {
					spinner.UpdateText(fmt.Sprintf("%s (%d/%d)", op.Message, op.Current, op.Total))
				} else if op.Message != "" {
					spinner.UpdateText(op.Message)
				}
			case events.LaunchProgressEvent:
				spinner.UpdateText(e.Task)
			case events.GameStateChangedEvent:
				spinner.UpdateText("game " + e.State)
			case events.GameStartedEvent:
				pterm.Success.Printfln("game running (pid %d, %.1fs)", e.PID, e.LaunchDuration)
			case events.GameCrashedEvent:
				pterm.Error.Printfln("game crashed: %s", e.Reason)
			case events.GameErrorEvent:
				pterm.Warning.Printfln("fatal output: %s", e.Line)
			case events.LaunchErrorEvent:
				pterm.Error.Printfln("launch error: %v", e.Err)
			case events.LaunchDataEvent:
				if verbose {
					fmt.Fprintln(os.Stderr, e.Line)
				}
			}
		}
	}
}
