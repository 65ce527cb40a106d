package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/blocksmiths/launchcore/internal/command"
	"github.com/blocksmiths/launchcore/internal/process"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List available Minecraft versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		forceRefresh, _ := cmd.Flags().GetBool("refresh")
		showSnapshots, _ := cmd.Flags().GetBool("snapshots")

		result := dispatcher.GetAvailableVersions(cmd.Context(), forceRefresh)
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}

		pterm.Info.Printfln("latest release: %s, latest snapshot: %s",
			result.Versions.Latest.Release, result.Versions.Latest.Snapshot)

		for _, v := range result.Versions.Release {
			fmt.Println(v.ID)
		}
		if showSnapshots {
			for _, v := range result.Versions.Snapshot {
				fmt.Println(v.ID)
			}
		}
		return nil
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch <version>",
	Short: "Launch a vanilla Minecraft version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := command.LaunchOptions{Version: args[0]}
		opts.Username, _ = cmd.Flags().GetString("username")
		opts.MinMemory, _ = cmd.Flags().GetString("min-memory")
		opts.MaxMemory, _ = cmd.Flags().GetString("max-memory")
		opts.WindowWidth, _ = cmd.Flags().GetInt("width")
		opts.WindowHeight, _ = cmd.Flags().GetInt("height")
		opts.Fullscreen, _ = cmd.Flags().GetBool("fullscreen")

		if server, _ := cmd.Flags().GetString("server"); server != "" {
			host, portStr, found := strings.Cut(server, ":")
			opts.ServerHost = host
			if found {
				port, err := strconv.Atoi(portStr)
				if err != nil {
					return fmt.Errorf("invalid server port %q", portStr)
				}
				opts.ServerPort = port
			}
		}

		return runSupervised(cmd, func() command.LaunchResult {
			return dispatcher.LaunchGame(cmd.Context(), opts)
		})
	},
}

var launchInstanceCmd = &cobra.Command{
	Use:   "launch-instance <id>",
	Short: "Launch an installed modpack instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSupervised(cmd, func() command.LaunchResult {
			return dispatcher.LaunchInstance(cmd.Context(), args[0])
		})
	},
}

// runSupervised launches and blocks until the game exits, rendering events.
func runSupervised(cmd *cobra.Command, start func() command.LaunchResult) error {
	stop := make(chan struct{})
	go renderEvents(dispatcher.Bus(), stop)
	defer close(stop)

	result := start()
	if !result.Success {
		return fmt.Errorf("%s", result.Error)
	}
	pterm.Info.Printfln("spawned pid %d", result.PID)

	// Block until the supervisor returns to idle.
	for {
		st := dispatcher.GetGameState()
		if st.State == process.StateIdle {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running game",
	RunE: func(cmd *cobra.Command, args []string) error {
		result := dispatcher.StopGame()
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}
		pterm.Success.Println("game stopped")
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the supervisor state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st := dispatcher.GetGameState()
		pterm.Info.Printfln("state: %s", st.State)
		if st.PID > 0 {
			pterm.Info.Printfln("pid: %d, uptime: %.0fs", st.PID, st.Uptime)
		}
		pterm.Info.Printfln("steps: user=%v lwjgl=%v resources=%v started=%v",
			st.LaunchSteps.UserSet, st.LaunchSteps.LWJGLLoaded,
			st.LaunchSteps.ResourcesLoaded, st.LaunchSteps.FullyStarted)
		return nil
	},
}

func init() {
	versionsCmd.Flags().Bool("refresh", false, "bypass the manifest cache")
	versionsCmd.Flags().Bool("snapshots", false, "include snapshot versions")

	launchCmd.Flags().StringP("username", "u", "Player", "offline player name")
	launchCmd.Flags().String("min-memory", "", "minimum heap, e.g. 1G")
	launchCmd.Flags().String("max-memory", "", "maximum heap, e.g. 4G")
	launchCmd.Flags().Int("width", 0, "window width")
	launchCmd.Flags().Int("height", 0, "window height")
	launchCmd.Flags().Bool("fullscreen", false, "launch fullscreen")
	launchCmd.Flags().String("server", "", "auto-connect server host[:port]")

	rootCmd.AddCommand(versionsCmd, launchCmd, launchInstanceCmd, stopCmd, stateCmd)
}
