package commands

import (
	"github.com/spf13/cobra"

	"agentseal/internal/app"
)

var (
	configPath string
	cfg        app.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:   "agentseal",
		Short: "Hybrid post-quantum secure sessions between agents",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				cfg = app.Default()
				return nil
			}
			loaded, err := app.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "yaml config file (defaults apply when unset)")

	root.AddCommand(keygenCmd(), fingerprintCmd(), demoCmd())
	return root.Execute()
}
