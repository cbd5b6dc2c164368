package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/faceid/go/pkg/cli"
	"github.com/haivivi/faceid/go/pkg/faceid"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage CLI configuration and contexts.

Contexts allow you to manage multiple gallery configurations,
similar to kubectl's context management.

Configuration is stored in ~/.faceid/faceid/config.yaml`,
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Long: `Add a new context with the specified name.

A context selects the gallery store backend, optional object-store
settings for s3:// transfer targets, match tuning, and the capture
gateway listen address. All settings are optional; omitted values fall
back to the built-in defaults (badger store in the app data directory).

Example:
  # Local badger gallery with default tuning
  faceid config add-context dev

  # SQLite gallery with a stricter match threshold
  faceid config add-context lab \
    --store-backend sqlite --store-path /var/lib/faceid/gallery.db \
    --match-threshold 0.5

  # MinIO-backed transfer target for export/import
  faceid config add-context prod \
    --region us-east-1 --endpoint http://minio:9000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		storeBackend, err := cmd.Flags().GetString("store-backend")
		if err != nil {
			return fmt.Errorf("failed to read 'store-backend' flag: %w", err)
		}
		storePath, err := cmd.Flags().GetString("store-path")
		if err != nil {
			return fmt.Errorf("failed to read 'store-path' flag: %w", err)
		}

		region, err := cmd.Flags().GetString("region")
		if err != nil {
			return fmt.Errorf("failed to read 'region' flag: %w", err)
		}
		endpoint, err := cmd.Flags().GetString("endpoint")
		if err != nil {
			return fmt.Errorf("failed to read 'endpoint' flag: %w", err)
		}

		listen, err := cmd.Flags().GetString("listen")
		if err != nil {
			return fmt.Errorf("failed to read 'listen' flag: %w", err)
		}

		maxCaptures, err := cmd.Flags().GetInt("max-captures")
		if err != nil {
			return fmt.Errorf("failed to read 'max-captures' flag: %w", err)
		}
		captureInterval, err := cmd.Flags().GetDuration("capture-interval")
		if err != nil {
			return fmt.Errorf("failed to read 'capture-interval' flag: %w", err)
		}
		matchThreshold, err := cmd.Flags().GetFloat64("match-threshold")
		if err != nil {
			return fmt.Errorf("failed to read 'match-threshold' flag: %w", err)
		}
		minConfidence, err := cmd.Flags().GetFloat64("min-confidence")
		if err != nil {
			return fmt.Errorf("failed to read 'min-confidence' flag: %w", err)
		}
		useMean, err := cmd.Flags().GetBool("use-mean-embedding")
		if err != nil {
			return fmt.Errorf("failed to read 'use-mean-embedding' flag: %w", err)
		}

		ctx := &cli.Context{
			Listen: listen,
		}

		if storeBackend != "" || storePath != "" {
			ctx.Store = &cli.StoreConfig{
				Backend: storeBackend,
				Path:    storePath,
			}
		}

		if region != "" || endpoint != "" {
			ctx.Remote = &cli.RemoteConfig{
				Region:   region,
				Endpoint: endpoint,
			}
		}

		if maxCaptures != 0 || captureInterval != 0 || matchThreshold != 0 ||
			minConfidence != 0 || useMean {
			ctx.Match = &faceid.Config{
				MaxCaptures:      maxCaptures,
				CaptureInterval:  captureInterval,
				MatchThreshold:   matchThreshold,
				MinConfidence:    minConfidence,
				UseMeanEmbedding: useMean,
			}
		}

		cfg := getConfig()
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q added successfully", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg := getConfig()
		if err := cfg.DeleteContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q deleted", name)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg := getConfig()
		if err := cfg.UseContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Switched to context %q", name)
		return nil
	},
}

var configGetContextCmd = &cobra.Command{
	Use:   "get-context",
	Short: "Display the current context",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		if cfg.CurrentContext == "" {
			fmt.Println("No current context set")
			return nil
		}

		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"get-contexts"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		if len(cfg.Contexts) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tSTORE\tREMOTE\tLISTEN")

		for name, ctx := range cfg.Contexts {
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			store := "badger (default)"
			if ctx.Store != nil {
				store = ctx.Store.Backend
				if store == "" {
					store = "badger"
				}
				if ctx.Store.Path != "" {
					store += " " + ctx.Store.Path
				}
			}
			remote := "-"
			if ctx.Remote != nil && ctx.Remote.Endpoint != "" {
				remote = ctx.Remote.Endpoint
			} else if ctx.Remote != nil && ctx.Remote.Region != "" {
				remote = ctx.Remote.Region
			}
			listen := ctx.Listen
			if listen == "" {
				listen = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", current, name, store, remote, listen)
		}

		w.Flush()
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		fmt.Printf("Config file: %s\n", cfg.Path())
		fmt.Printf("Current context: %s\n", cfg.CurrentContext)
		fmt.Printf("Contexts: %d\n", len(cfg.Contexts))

		if len(cfg.Contexts) > 0 {
			fmt.Println("\nContext details:")
			for name, ctx := range cfg.Contexts {
				fmt.Printf("\n  %s:\n", name)

				if ctx.Store != nil {
					fmt.Println("    Store:")
					fmt.Printf("      Backend: %s\n", ctx.Store.Backend)
					if ctx.Store.Path != "" {
						fmt.Printf("      Path: %s\n", ctx.Store.Path)
					}
				}

				if ctx.Remote != nil {
					fmt.Println("    Remote:")
					if ctx.Remote.Region != "" {
						fmt.Printf("      Region: %s\n", ctx.Remote.Region)
					}
					if ctx.Remote.Endpoint != "" {
						fmt.Printf("      Endpoint: %s\n", ctx.Remote.Endpoint)
					}
				}

				if ctx.Match != nil {
					fmt.Println("    Match:")
					if ctx.Match.MaxCaptures != 0 {
						fmt.Printf("      Max Captures: %d\n", ctx.Match.MaxCaptures)
					}
					if ctx.Match.CaptureInterval != 0 {
						fmt.Printf("      Capture Interval: %s\n", ctx.Match.CaptureInterval)
					}
					if ctx.Match.MatchThreshold != 0 {
						fmt.Printf("      Match Threshold: %g\n", ctx.Match.MatchThreshold)
					}
					if ctx.Match.MinConfidence != 0 {
						fmt.Printf("      Min Confidence: %g\n", ctx.Match.MinConfidence)
					}
					if ctx.Match.UseMeanEmbedding {
						fmt.Println("      Use Mean Embedding: true")
					}
				}

				if ctx.Listen != "" {
					fmt.Printf("    Listen: %s\n", ctx.Listen)
				}
			}
		}

		return nil
	},
}

func init() {
	// add-context flags - store selection
	configAddContextCmd.Flags().String("store-backend", "", "gallery backend: badger, sqlite, or memory")
	configAddContextCmd.Flags().String("store-path", "", "backend location (directory for badger, file for sqlite)")

	// add-context flags - object-store transfer settings
	configAddContextCmd.Flags().String("region", "", "S3 region for s3:// transfer targets")
	configAddContextCmd.Flags().String("endpoint", "", "S3-compatible endpoint (e.g. MinIO URL)")

	// add-context flags - match tuning and gateway
	configAddContextCmd.Flags().Int("max-captures", 0, "captures required to complete an enrollment")
	configAddContextCmd.Flags().Duration("capture-interval", time.Duration(0), "minimum time between accepted captures")
	configAddContextCmd.Flags().Float64("match-threshold", 0, "strict distance bound for a match")
	configAddContextCmd.Flags().Float64("min-confidence", 0, "minimum detector score for a frame to count")
	configAddContextCmd.Flags().Bool("use-mean-embedding", false, "index one mean vector per identity")
	configAddContextCmd.Flags().String("listen", "", "capture gateway listen address")

	// Add subcommands
	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configViewCmd)
}
