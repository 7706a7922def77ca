package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tedstreete/six-degrees/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sixdegrees",
	Short: "Bounded expansion of the Wikipedia link graph",
	Long: `SixDegrees answers "what pages lie within N hyperlink hops of a starting
Wikipedia page?" by expanding the MediaWiki link graph on demand across a
sharded in-process page table.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
