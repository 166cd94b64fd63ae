// Package discount models marketing discount codes and their expiry,
// swept hourly by the sweeper package.
package discount

import (
	"time"

	"github.com/xraph/creditledger/id"
)

// Status is the discount lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Type classifies how the discount's Amount is interpreted.
type Type string

const (
	TypePercentage Type = "percentage"
	TypeAmount     Type = "amount"
)

// Discount is a generated marketing discount code. Percentage-type
// discounts use Percentage (basis points); amount-type discounts use
// AmountMicro.
type Discount struct {
	ID             id.DiscountID `json:"id"`
	Code           string        `json:"code"`
	Type           Type          `json:"type"`
	AmountMicro    int64         `json:"amount_micro,omitempty"`
	PercentageBps  int32         `json:"percentage_bps,omitempty"`
	Status         Status        `json:"status"`
	MaxRedemptions int           `json:"max_redemptions"`
	TimesRedeemed  int           `json:"times_redeemed"`
	ValidFrom      *time.Time    `json:"valid_from,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Expired reports whether the discount's ExpiresAt has passed as of asOf.
func (d *Discount) Expired(asOf time.Time) bool {
	return d.ExpiresAt != nil && !d.ExpiresAt.After(asOf)
}

// New constructs a new active Discount.
func New(code string, typ Type) *Discount {
	return &Discount{
		ID:     id.NewDiscountID(),
		Code:   code,
		Type:   typ,
		Status: StatusActive,
		CreatedAt: time.Now().UTC(),
	}
}
