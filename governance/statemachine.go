package governance

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/id"
)

// ErrFourEyes is returned when a proposer attempts to approve their own
// proposal.
var ErrFourEyes = fmt.Errorf("governance: proposer may not approve their own proposal")

// ErrWrongStatus is returned when a transition is attempted from a
// status that does not permit it.
var ErrWrongStatus = fmt.Errorf("governance: transition not permitted from current status")

// Writer is the subset of storage capability the state machine needs to
// persist transitions, satisfied structurally by store.Tx.
type Writer interface {
	Store
	GetGovernanceConfig(ctx context.Context, configID id.GovernanceConfigID) (*Config, error)
	CreateGovernanceConfig(ctx context.Context, cfg *Config) error
	UpdateGovernanceConfig(ctx context.Context, cfg *Config) error
	ListCoolingDownConfigs(ctx context.Context, asOf time.Time) ([]*Config, error)
}

// Machine drives the approval lifecycle for a governance config.
type Machine struct {
	store Writer
}

// NewMachine constructs a Machine bound to a transactional store handle.
func NewMachine(store Writer) *Machine {
	return &Machine{store: store}
}

// Propose allocates a new draft config. version is the caller-supplied
// next version for (paramKey, entityType); callers typically derive it
// from the highest existing version plus one.
func (m *Machine) Propose(ctx context.Context, paramKey, value string, entityType *account.EntityType, proposedBy string, requiredApprovals int, version int64) (*Config, error) {
	cfg := Propose(paramKey, value, entityType, proposedBy, requiredApprovals, version)
	if err := m.store.CreateGovernanceConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Submit moves a draft config to pending_approval. Only the proposer
// may submit.
func (m *Machine) Submit(ctx context.Context, configID id.GovernanceConfigID, by string) (*Config, error) {
	cfg, err := m.store.GetGovernanceConfig(ctx, configID)
	if err != nil {
		return nil, err
	}
	if cfg.Status != StatusDraft {
		return nil, ErrWrongStatus
	}
	if cfg.ProposedBy != by {
		return nil, fmt.Errorf("governance: only the proposer may submit config %s", configID.String())
	}
	cfg.Status = StatusPendingApproval
	cfg.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateGovernanceConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Approve records an approval from by. The four-eyes rule forbids the
// proposer from approving their own proposal. Once ApprovalCount reaches
// RequiredApprovals, the config transitions to cooling_down with
// CooldownEndsAt set CooldownPeriod from now.
func (m *Machine) Approve(ctx context.Context, configID id.GovernanceConfigID, by string) (*Config, error) {
	cfg, err := m.store.GetGovernanceConfig(ctx, configID)
	if err != nil {
		return nil, err
	}
	if cfg.Status != StatusPendingApproval {
		return nil, ErrWrongStatus
	}
	if cfg.ProposedBy == by {
		return nil, ErrFourEyes
	}
	if slices.Contains(cfg.Approvers, by) {
		return cfg, nil // idempotent re-approval
	}

	cfg.Approvers = append(cfg.Approvers, by)
	cfg.ApprovalCount = len(cfg.Approvers)
	cfg.UpdatedAt = time.Now().UTC()

	if cfg.ApprovalCount >= cfg.RequiredApprovals {
		cfg.Status = StatusCoolingDown
		ends := time.Now().UTC().Add(CooldownPeriod)
		cfg.CooldownEndsAt = &ends
	}

	if err := m.store.UpdateGovernanceConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reject transitions the config to the terminal rejected state.
func (m *Machine) Reject(ctx context.Context, configID id.GovernanceConfigID) (*Config, error) {
	cfg, err := m.store.GetGovernanceConfig(ctx, configID)
	if err != nil {
		return nil, err
	}
	if cfg.Status == StatusActive || cfg.Status == StatusRejected || cfg.Status == StatusSuperseded {
		return nil, ErrWrongStatus
	}
	cfg.Status = StatusRejected
	cfg.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateGovernanceConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EmergencyOverride activates a config directly, bypassing cooldown,
// provided at least RequiredEmergencyApprovers distinct approvers sign
// off and a justification is supplied. Callers are responsible for
// emitting the audit event this action requires.
func (m *Machine) EmergencyOverride(ctx context.Context, configID id.GovernanceConfigID, approvers []string, justification string) (*Config, error) {
	if justification == "" {
		return nil, fmt.Errorf("governance: emergency override requires a justification")
	}
	distinct := map[string]struct{}{}
	for _, a := range approvers {
		distinct[a] = struct{}{}
	}
	if len(distinct) < RequiredEmergencyApprovers {
		return nil, fmt.Errorf("governance: emergency override requires %d distinct approvers, got %d", RequiredEmergencyApprovers, len(distinct))
	}

	cfg, err := m.store.GetGovernanceConfig(ctx, configID)
	if err != nil {
		return nil, err
	}
	if cfg.Status == StatusActive || cfg.Status == StatusRejected || cfg.Status == StatusSuperseded {
		return nil, ErrWrongStatus
	}

	if err := m.supersedePredecessor(ctx, cfg); err != nil {
		return nil, err
	}

	cfg.Status = StatusActive
	cfg.Approvers = approvers
	cfg.ApprovalCount = len(approvers)
	cfg.CooldownEndsAt = nil
	cfg.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateGovernanceConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ActivateExpiredCooldowns is the cron entry point: every cooling_down
// config whose CooldownEndsAt has elapsed as of asOf is activated, and
// its predecessor for the same (ParamKey, EntityType) is superseded.
// Returns the configs that were activated, in the order visited, so the
// caller can emit per-config notifications.
func (m *Machine) ActivateExpiredCooldowns(ctx context.Context, asOf time.Time) ([]*Config, error) {
	due, err := m.store.ListCoolingDownConfigs(ctx, asOf)
	if err != nil {
		return nil, err
	}

	var activated []*Config
	for _, cfg := range due {
		if err := m.supersedePredecessor(ctx, cfg); err != nil {
			return activated, err
		}
		cfg.Status = StatusActive
		cfg.CooldownEndsAt = nil
		cfg.UpdatedAt = asOf
		if err := m.store.UpdateGovernanceConfig(ctx, cfg); err != nil {
			return activated, err
		}
		activated = append(activated, cfg)
	}
	return activated, nil
}

// supersedePredecessor marks the currently active config for the same
// scope as superseded, if one exists.
func (m *Machine) supersedePredecessor(ctx context.Context, cfg *Config) error {
	prev, err := m.store.GetActiveGovernanceConfig(ctx, cfg.ParamKey, cfg.EntityType)
	if err != nil || prev == nil || prev.ID == cfg.ID {
		return nil
	}
	prev.Status = StatusSuperseded
	prev.UpdatedAt = time.Now().UTC()
	return m.store.UpdateGovernanceConfig(ctx, prev)
}
