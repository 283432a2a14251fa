package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soad-project/soad/internal/config"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a soad configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfigFile()
			if err != nil {
				return err
			}

			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}

			fmt.Printf("configuration valid: %d group(s), %d connection(s), %d socket route(s), %d pdu route(s)\n",
				len(cfg.SoAd.Groups), len(cfg.SoAd.Connections), len(cfg.SoAd.SocketRoutes), len(cfg.SoAd.PduRoutes))
			return nil
		},
	}
}
