package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"oscrelay/internal/config"
)

func newValidateCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(*cfgPath)
			if err != nil {
				return err
			}
			cfg, err := config.Decode(*cfgPath, b)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config %s:\n%w", *cfgPath, err)
			}
			mappings := 0
			for _, r := range cfg.Relays {
				mappings += len(r.Mappings)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d relays, %d mappings\n", len(cfg.Relays), mappings)
			return nil
		},
	}
}
