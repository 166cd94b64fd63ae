// Package governance resolves runtime parameters through a three-tier
// lookup (entity-override -> global -> compile-time fallback) and
// implements the approval state machine that promotes a proposed value
// from draft to active.
package governance

import (
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/id"
)

// Status is the governance config lifecycle state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusCoolingDown     Status = "cooling_down"
	StatusActive          Status = "active"
	StatusRejected        Status = "rejected"
	StatusSuperseded      Status = "superseded"
)

// CooldownPeriod is the mandatory soak time between reaching the
// required approval count and automatic activation.
const CooldownPeriod = 7 * 24 * time.Hour

// RequiredEmergencyApprovers is the minimum number of distinct approvers
// for an emergency override to bypass cooldown.
const RequiredEmergencyApprovers = 3

// Config is a single proposed or active value for a named parameter,
// optionally scoped to an entity type. Config rows are versioned:
// activating a new version for the same (ParamKey, EntityType)
// supersedes the previously active one.
type Config struct {
	ID                id.GovernanceConfigID `json:"id"`
	ParamKey          string                `json:"param_key"`
	Value             string                `json:"value"`
	EntityType        *account.EntityType   `json:"entity_type,omitempty"`
	Version           int64                 `json:"version"`
	Status            Status                `json:"status"`
	RequiredApprovals int                   `json:"required_approvals"`
	ApprovalCount     int                   `json:"approval_count"`
	Approvers         []string              `json:"approvers,omitempty"`
	ProposedBy        string                `json:"proposed_by"`
	CooldownEndsAt    *time.Time            `json:"cooldown_ends_at,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// scopeKey returns a string unique to (ParamKey, EntityType) for lookup
// and supersession grouping.
func (c *Config) scopeKey() string {
	if c.EntityType == nil {
		return c.ParamKey + "|*"
	}
	return c.ParamKey + "|" + string(*c.EntityType)
}

// Propose allocates a new draft config for paramKey at version 1 (or the
// next version, decided by the caller/store).
func Propose(paramKey, value string, entityType *account.EntityType, proposedBy string, requiredApprovals int, version int64) *Config {
	now := time.Now().UTC()
	return &Config{
		ID:                id.NewGovernanceConfigID(),
		ParamKey:          paramKey,
		Value:             value,
		EntityType:        entityType,
		Version:           version,
		Status:            StatusDraft,
		RequiredApprovals: requiredApprovals,
		ProposedBy:        proposedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
