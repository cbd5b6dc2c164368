package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/faceid/go/pkg/cli"
	"github.com/haivivi/faceid/go/pkg/gallery"
	"github.com/haivivi/faceid/go/pkg/kv"
)

const appName = "faceid"

var (
	// Global flags
	cfgFile     string
	contextName string
	outputFile  string
	inputFile   string
	outputJSON  bool
	verbose     bool

	// Global configuration
	globalConfig *cli.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "faceid",
	Short: "Face identity enrollment and matching CLI",
	Long: `faceid - enrollment and 1:N matching over face descriptors.

Descriptors are produced by an external detector; this tool manages the
gallery built from them: guided multi-capture enrollment, nearest-identity
queries, import/export, duplicate audits, and a websocket capture gateway
for live detector clients.

Configuration is stored in ~/.faceid/faceid/ and supports multiple contexts,
similar to kubectl's context management.

Examples:
  # Set up a context backed by a local badger store
  faceid config add-context dev --store-backend badger

  # Enroll from a capture script
  faceid -c dev enroll --name "Alice" --script captures.yaml

  # Query the gallery
  faceid -c dev match --query probe.json

  # Run the capture gateway for live clients
  faceid -c dev serve --listen :8089
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command returns the root cobra command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "", "", "config file (default is ~/.faceid/faceid/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().StringVarP(&inputFile, "file", "f", "", "input request file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(identitiesCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(thumbnailCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	// Configure slog based on verbose flag
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	globalConfig, err = cli.LoadConfigWithPath(appName, cfgFile)
	if err != nil {
		// Log but don't exit — allows the binary to run non-config commands.
		fmt.Fprintf(os.Stderr, "Warning: %s config: %v\n", appName, err)
	}
}

// getConfig returns the global configuration
func getConfig() *cli.Config {
	return globalConfig
}

// getContext returns the context configuration to use
func getContext() (*cli.Context, error) {
	cfg := getConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	ctx, err := cfg.ResolveContext(contextName)
	if err != nil {
		if contextName == "" {
			return nil, fmt.Errorf("no context specified. Use -c flag or set a default context with 'faceid config use-context'")
		}
		return nil, err
	}

	return ctx, nil
}

// getContextOrDefault is getContext for commands that run fine on
// defaults (badger store in the app data dir, library thresholds).
// With no context configured it returns nil; an explicit -c that does
// not resolve is still an error.
func getContextOrDefault() (*cli.Context, error) {
	ctx, err := getContext()
	if err != nil {
		if contextName != "" {
			return nil, err
		}
		printVerbose("No context configured; using defaults")
		return nil, nil
	}
	return ctx, nil
}

// getInputFile returns the input file path
func getInputFile() string {
	return inputFile
}

// getOutputFile returns the output file path
func getOutputFile() string {
	return outputFile
}

// isJSONOutput returns whether output should be JSON
func isJSONOutput() bool {
	return outputJSON
}

// isVerbose returns whether verbose mode is enabled
func isVerbose() bool {
	return verbose
}

// outputResult outputs the result using cli package
func outputResult(result any, outputPath string, asJSON bool) error {
	format := cli.FormatYAML
	if asJSON {
		format = cli.FormatJSON
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		File:   outputPath,
	})
}

// outputListResult renders list-shaped results as an aligned table on a
// terminal, or JSON with --json.
func outputListResult(result any, outputPath string, asJSON bool) error {
	format := cli.FormatTable
	if asJSON {
		format = cli.FormatJSON
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		File:   outputPath,
	})
}

// printVerbose prints verbose output if enabled
func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}

// openStore opens the kv backend selected by the context's store config.
// Without a context (or without store config) it defaults to a badger
// store in the app data directory.
func openStore(cliCtx *cli.Context) (kv.Store, error) {
	var backend, path string
	if cliCtx != nil && cliCtx.Store != nil {
		backend = cliCtx.Store.Backend
		path = cliCtx.Store.Path
	}
	if backend == "" {
		backend = "badger"
	}

	switch backend {
	case "badger":
		if path == "" {
			p, err := defaultDataPath("gallery")
			if err != nil {
				return nil, err
			}
			path = p
		}
		printVerbose("Opening badger store at %s", path)
		return kv.NewBadger(kv.BadgerOptions{Dir: path})

	case "sqlite":
		if path == "" {
			p, err := defaultDataPath("gallery.db")
			if err != nil {
				return nil, err
			}
			path = p
		}
		printVerbose("Opening sqlite store at %s", path)
		return kv.NewSQLite(kv.SQLiteOptions{Path: path})

	case "memory":
		return kv.NewMemory(nil), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q (want badger, sqlite, or memory)", backend)
	}
}

// openGallery opens the configured gallery store. The returned close
// function releases the underlying kv backend.
func openGallery(cliCtx *cli.Context) (gallery.Store, func() error, error) {
	store, err := openStore(cliCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return gallery.NewKV(store), store.Close, nil
}

// defaultDataPath resolves name inside the app data directory, creating
// the directory if needed.
func defaultDataPath(name string) (string, error) {
	paths, err := cli.NewPaths(appName)
	if err != nil {
		return "", err
	}
	if err := paths.EnsureDataDir(); err != nil {
		return "", err
	}
	return paths.DataPath(name), nil
}
