package main

import (
	"github.com/spf13/cobra"

	"github.com/Zeeeepa/attune-ai-sub002/internal/mgmt"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

var (
	tokenAgentID string
	tokenTier    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage management API bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for the management API",
	RunE:  runTokenIssue,
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tier, err := types.ParseTier(tokenTier)
	if err != nil {
		return err
	}

	authority, err := mgmt.NewTokenAuthority([]byte(cfg.Server.TokenSecret), cfg.Server.TokenTTL)
	if err != nil {
		return err
	}

	token, err := authority.Issue(types.AgentCredential{AgentID: tokenAgentID, Tier: tier})
	if err != nil {
		return err
	}
	cmd.Println(token)
	return nil
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenAgentID, "agent-id", "", "Agent ID the token authenticates as")
	tokenIssueCmd.Flags().StringVar(&tokenTier, "tier", "observer", "Access tier embedded in the token")
	_ = tokenIssueCmd.MarkFlagRequired("agent-id")

	tokenCmd.AddCommand(tokenIssueCmd)
}
