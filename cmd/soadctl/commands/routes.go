package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the group, connection, and route tables from a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfigFile()
			if err != nil {
				return err
			}

			out, err := formatSoAdConfig(cfg.SoAd, outputFormat)
			if err != nil {
				return err
			}

			fmt.Println(out)
			return nil
		},
	}
}
