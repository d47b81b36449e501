// Package access implements the tier gate every memory operation passes
// through. Authorization is a pure lookup against a static table: no network,
// no state, deterministic for identical inputs.
package access

import (
	"fmt"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// Operation identifies a gated memory operation.
type Operation string

const (
	OpReadShared   Operation = "read_shared"
	OpWriteWorking Operation = "write_working"
	OpSendSignal   Operation = "send_signal"
	OpPollSignals  Operation = "poll_signals"
	OpSnapshot     Operation = "snapshot_session"
	OpRestore      Operation = "restore_session"
	OpStage        Operation = "stage_pattern"
	OpListStaged   Operation = "list_staged"
	OpPromote      Operation = "promote_pattern"
	OpReject       Operation = "reject_pattern"
	OpRecall       Operation = "recall_pattern"
	OpPersist      Operation = "persist_pattern"
	OpDelete       Operation = "delete_pattern"
	OpClearAll     Operation = "clear_all"
	OpExportSecret Operation = "export_sensitive"
)

// DefaultTierTable maps each operation to the minimum tier it requires.
// Reads are open to observers; mutations of shared state need a contributor;
// the staged-pattern review surface needs a validator; destructive and
// sensitive-export operations need a steward.
func DefaultTierTable() map[Operation]types.AccessTier {
	return map[Operation]types.AccessTier{
		OpReadShared:   types.TierObserver,
		OpRecall:       types.TierObserver,
		OpWriteWorking: types.TierContributor,
		OpSendSignal:   types.TierContributor,
		OpPollSignals:  types.TierContributor,
		OpSnapshot:     types.TierContributor,
		OpRestore:      types.TierContributor,
		OpStage:        types.TierContributor,
		OpPersist:      types.TierContributor,
		OpListStaged:   types.TierValidator,
		OpPromote:      types.TierValidator,
		OpReject:       types.TierValidator,
		OpDelete:       types.TierSteward,
		OpClearAll:     types.TierSteward,
		OpExportSecret: types.TierSteward,
	}
}

// Controller evaluates agent credentials against the tier table.
type Controller struct {
	table map[Operation]types.AccessTier
}

// NewController creates a Controller with the default tier table.
func NewController() *Controller {
	return &Controller{table: DefaultTierTable()}
}

// NewControllerWithTable creates a Controller with a custom tier table.
// Unknown operations are denied, so a partial table is a deny-by-default table.
func NewControllerWithTable(table map[Operation]types.AccessTier) *Controller {
	copied := make(map[Operation]types.AccessTier, len(table))
	for op, tier := range table {
		copied[op] = tier
	}
	return &Controller{table: copied}
}

// RequiredTier returns the minimum tier for the operation.
func (c *Controller) RequiredTier(op Operation) (types.AccessTier, error) {
	tier, ok := c.table[op]
	if !ok {
		return types.TierSteward, types.NewError(types.UNKNOWN_OPERATION,
			fmt.Sprintf("operation %q is not registered", op))
	}
	return tier, nil
}

// Authorize checks the credential against the operation's required tier.
// A denial is a hard PERMISSION_DENIED error the caller must surface; it is
// never a silent no-op.
func (c *Controller) Authorize(credential types.AgentCredential, op Operation) error {
	if err := credential.Validate(); err != nil {
		return err
	}

	required, err := c.RequiredTier(op)
	if err != nil {
		return err
	}

	if !credential.Tier.AtLeast(required) {
		return types.NewError(types.PERMISSION_DENIED, fmt.Sprintf(
			"agent %s (tier %s) requires tier %s for %s",
			credential.AgentID, credential.Tier, required, op))
	}

	return nil
}
