package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print substrate, vault, and health status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newCommandLogger(cfg)

	s, err := buildStack(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	status, err := s.service.Status(ctx)
	if err != nil {
		return err
	}
	health := s.service.HealthCheck(ctx)

	out := map[string]any{
		"status": status,
		"health": health,
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
