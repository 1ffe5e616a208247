package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lguibr/twothread/utils"
)

// configFlags are the overrides shared by run and config.
type configFlags struct {
	path        string
	logLevel    string
	logFormat   string
	monitorAddr string
	outputDir   string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "", "Path to a YAML or JSON configuration file")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (console or json)")
	cmd.Flags().StringVar(&f.monitorAddr, "monitor-addr", "", "Serve the websocket monitor on this address")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "Directory receiving the data files")
}

// load reads the configuration file, if any, and applies flag overrides.
func (f *configFlags) load() (utils.Config, error) {
	cfg := utils.DefaultConfig()
	if f.path != "" {
		loaded, err := utils.NewLoader().LoadFile(f.path)
		if err != nil {
			return utils.Config{}, err
		}
		cfg = loaded
	}

	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if f.monitorAddr != "" {
		cfg.Monitor.Addr = f.monitorAddr
	}
	if f.outputDir != "" {
		cfg.Writer.OutputDir = f.outputDir
	}

	if err := cfg.Validate(); err != nil {
		return utils.Config{}, err
	}
	return cfg, nil
}

func (a *App) newConfigCmd() *cobra.Command {
	flags := &configFlags{}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			out, err := utils.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("render configuration: %w", err)
			}
			_, err = a.stdout.Write(out)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
