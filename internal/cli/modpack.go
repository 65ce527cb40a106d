package cli

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/blocksmiths/launchcore/internal/api"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search Modrinth for modpacks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := api.SearchOptions{}
		if len(args) > 0 {
			opts.Query = args[0]
		}
		opts.GameVersion, _ = cmd.Flags().GetString("game-version")
		opts.Loader, _ = cmd.Flags().GetString("loader")
		opts.Category, _ = cmd.Flags().GetString("category")
		opts.Sort, _ = cmd.Flags().GetString("sort")
		opts.Limit, _ = cmd.Flags().GetInt("limit")

		result := dispatcher.SearchModpacks(cmd.Context(), opts)
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}

		rows := pterm.TableData{{"ID", "Title", "Downloads", "Description"}}
		for _, hit := range result.Modpacks {
			rows = append(rows, []string{
				hit.ProjectID,
				hit.Title,
				humanize.Comma(int64(hit.Downloads)),
				truncate(hit.Description, 60),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var modpackVersionsCmd = &cobra.Command{
	Use:   "modpack-versions <modpack-id>",
	Short: "List published versions of a modpack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result := dispatcher.GetModpackVersions(cmd.Context(), args[0])
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}
		for _, v := range result.Versions {
			fmt.Printf("%s\t%s\t%v\n", v.ID, v.VersionNumber, v.GameVersions)
		}
		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install <modpack-id>",
	Short: "Install a modpack from Modrinth",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		versionID, _ := cmd.Flags().GetString("version-id")
		name, _ := cmd.Flags().GetString("name")

		stop := make(chan struct{})
		go renderEvents(dispatcher.Bus(), stop)
		defer close(stop)

		result := dispatcher.InstallModpack(cmd.Context(), args[0], versionID, name)
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}
		pterm.Success.Printfln("installed instance %s", result.InstanceID)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <path.mrpack>",
	Short: "Import a local .mrpack file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stop := make(chan struct{})
		go renderEvents(dispatcher.Bus(), stop)
		defer close(stop)

		result := dispatcher.ImportModpack(cmd.Context(), args[0])
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}
		pterm.Success.Printfln("imported instance %s", result.InstanceID)
		return nil
	},
}

var importURLCmd = &cobra.Command{
	Use:   "import-url <url>",
	Short: "Import a .mrpack from a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		stop := make(chan struct{})
		go renderEvents(dispatcher.Bus(), stop)
		defer close(stop)

		result := dispatcher.ImportModpackURL(cmd.Context(), args[0], name)
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}
		pterm.Success.Printfln("imported instance %s", result.InstanceID)
		return nil
	},
}

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List installed instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		result := dispatcher.GetInstances()

		rows := pterm.TableData{{"ID", "Name", "Minecraft", "Loader", "Size", "Playtime"}}
		for _, inst := range result.Instances {
			loader := string(inst.Modloader.Kind)
			if inst.Modloader.Version != "" {
				loader += " " + inst.Modloader.Version
			}
			name := inst.Name
			if inst.Broken {
				name += " (broken)"
			}
			rows = append(rows, []string{
				inst.ID,
				name,
				inst.MinecraftVersion,
				loader,
				humanize.Bytes(uint64(inst.SizeBytes)),
				fmt.Sprintf("%dm", inst.TotalPlayTimeMinutes),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <instance-id>",
	Short: "Delete an instance and its directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result := dispatcher.DeleteInstance(args[0])
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}
		pterm.Success.Printfln("deleted %s", args[0])
		return nil
	},
}

var playtimeCmd = &cobra.Command{
	Use:   "playtime <instance-id> <minutes>",
	Short: "Add playtime minutes to an instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid minutes %q", args[1])
		}
		result := dispatcher.UpdateModpackPlaytime(args[0], minutes)
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	searchCmd.Flags().String("game-version", "", "filter by Minecraft version")
	searchCmd.Flags().String("loader", "", "filter by modloader")
	searchCmd.Flags().String("category", "", "filter by category")
	searchCmd.Flags().String("sort", "relevance", "sort index")
	searchCmd.Flags().Int("limit", 20, "max results")

	installCmd.Flags().String("version-id", "", "specific modpack version to install")
	installCmd.Flags().String("name", "", "display name override")
	importURLCmd.Flags().String("name", "", "display name override")

	rootCmd.AddCommand(searchCmd, modpackVersionsCmd, installCmd, importCmd,
		importURLCmd, instancesCmd, deleteCmd, playtimeCmd)
}
