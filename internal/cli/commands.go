package cli

import (
	"github.com/spf13/cobra"

	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/pkg/utils"
)

// CLI Constants
const (
	CmdRecover   = "recover"
	CmdDecode    = "decode"
	CmdFlush     = "flush"
	CmdConfig    = "config"
	CmdPolicies  = "policies"
	FlagConfig   = "config"
	FlagLogLevel = "log-level"
	FlagJSON     = "json"
	FlagValidate = "validate"
)

// CLI Variables
var (
	configPath   string
	logLevel     string
	formatJSON   bool
	validateOnly bool

	loadedConfig *config.Configuration
)

// Root command
var rootCmd = &cobra.Command{
	Use:   "smacc",
	Short: "SMACC - multi-tier cache storage for object stores",
	Long: `SMACC keeps object data in a memory tier and a disk tier in front of a cold
object store. Policies decide where new and read objects are admitted, which
objects are evicted and whether evicted objects move down a tier.

AVAILABLE COMMANDS:
  smacc recover        # Rebuild the tier contents from the persisted state
  smacc decode NAME    # Decode persisted block and state marker names
  smacc flush          # Upload every object that has not reached cold storage
  smacc config         # Print or validate the effective configuration
  smacc policies       # List the registered policies

The configuration is read from --config, then overridden by SMACC_*
environment variables.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupCommand,
}

// Command definitions
var (
	recoverCmd = &cobra.Command{
		Use:   CmdRecover,
		Short: "Rebuild the tier contents from the persisted state",
		Long: `Scan the state and main directories of every disk volume and the memory state
directory, remove entries that cannot be trusted and report what survived.

Run it only while no engine uses the same directories.`,
		Args: cobra.NoArgs,
		RunE: runRecoverCmd,
	}

	decodeCmd = &cobra.Command{
		Use:   CmdDecode + " NAME...",
		Short: "Decode persisted block and state marker names",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDecodeCmd,
	}

	flushCmd = &cobra.Command{
		Use:   CmdFlush,
		Short: "Upload every object that has not reached cold storage",
		Long: `Start the engine, which recovers the disk tier and queues every object still
waiting for write-back, then shut it down once the queue has drained or the
write-back shutdown timeout has passed.`,
		Args: cobra.NoArgs,
		RunE: runFlushCmd,
	}

	configCmd = &cobra.Command{
		Use:   CmdConfig,
		Short: "Print or validate the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}

	policiesCmd = &cobra.Command{
		Use:   CmdPolicies,
		Short: "List the registered policies",
		Args:  cobra.NoArgs,
		RunE:  runPoliciesCmd,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional, defaults are used otherwise)")
	rootCmd.PersistentFlags().StringVar(&logLevel, FlagLogLevel, "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")

	recoverCmd.Flags().BoolVar(&formatJSON, FlagJSON, false, "Print the report as JSON")
	configCmd.Flags().BoolVar(&validateOnly, FlagValidate, false, "Only validate the configuration")

	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(policiesCmd)
}

// setupCommand loads the configuration and configures logging before any
// subcommand runs.
func setupCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile); err != nil {
		return err
	}
	loadedConfig = cfg
	return nil
}

func loadConfiguration(path string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
