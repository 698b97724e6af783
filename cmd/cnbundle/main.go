package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		a       = &app{}
	)
	defaultCfg := "configs/config.yaml"
	if v := os.Getenv("CNBUNDLE_CONFIG"); v != "" {
		defaultCfg = v
	}

	root := &cobra.Command{
		Use:           "cnbundle",
		Short:         "Ingest SSE/SZSE equity data into backtest bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "path to the YAML config file")

	root.AddCommand(
		newUpdateCmd(a),
		newIngestCmd(a),
		newMarketDataCmd(a),
		newInspectCmd(a),
		newScheduleCmd(a),
	)
	return root
}
