package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Zeeeepa/attune-ai-sub002/internal/mgmt"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

var (
	exportClassification   string
	exportPatternType      string
	exportIncludeSensitive bool
	exportFormat           string
	exportOutput           string
	exportAgentID          string
	exportTier             string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export vault patterns to JSON or YAML",
	Long: `Export builds a pattern bundle from the vault. Content is included
for public and internal patterns; sensitive patterns export metadata
only unless --include-sensitive is passed with a steward credential.
The export is recorded in the audit log.`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newCommandLogger(cfg)

	tier, err := types.ParseTier(exportTier)
	if err != nil {
		return err
	}
	cred := types.AgentCredential{AgentID: exportAgentID, Tier: tier}

	req := mgmt.ExportRequest{
		PatternType:      exportPatternType,
		IncludeSensitive: exportIncludeSensitive,
	}
	if exportClassification != "" {
		class, err := types.ParseClassification(exportClassification)
		if err != nil {
			return err
		}
		req.Classification = &class
	}

	s, err := buildStack(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	bundle, err := s.service.ExportPatterns(ctx, cred, req)
	if err != nil {
		return err
	}

	var encoded []byte
	switch exportFormat {
	case "json":
		encoded, err = json.MarshalIndent(bundle, "", "  ")
	case "yaml":
		encoded, err = yaml.Marshal(bundle)
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", exportFormat)
	}
	if err != nil {
		return err
	}

	if exportOutput == "" || exportOutput == "-" {
		_, err = os.Stdout.Write(append(encoded, '\n'))
		return err
	}
	return os.WriteFile(exportOutput, encoded, 0o600)
}

func init() {
	exportCmd.Flags().StringVar(&exportClassification, "classification", "", "Only export patterns at this classification (public, internal, sensitive)")
	exportCmd.Flags().StringVar(&exportPatternType, "type", "", "Only export patterns of this type")
	exportCmd.Flags().BoolVar(&exportIncludeSensitive, "include-sensitive", false, "Decrypt sensitive patterns into the bundle (steward only)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json or yaml")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringVar(&exportAgentID, "agent-id", "operator", "Credential agent ID recorded in the audit log")
	exportCmd.Flags().StringVar(&exportTier, "tier", "steward", "Credential tier (observer, contributor, validator, steward)")
}
