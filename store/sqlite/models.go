package sqlite

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/discount"
	"github.com/xraph/creditledger/entry"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/settlement"
	"github.com/xraph/creditledger/types"
	"github.com/xraph/creditledger/xfer"
)

// Row models mirror the schema in migrations.go. Monetary and ID columns
// are stored as TEXT/INTEGER, never REAL, so reads and writes never lose
// precision the way a float column would (see types.MicroUSD.Value/Scan).

type accountModel struct {
	ID         string
	EntityType string
	EntityID   string
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (accountModel) TableName() string { return "ledger_accounts" }

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:         a.ID.String(),
		EntityType: string(a.EntityType),
		EntityID:   a.EntityID,
		Version:    a.Version,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	aid, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity:     types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:         aid,
		EntityType: account.EntityType(m.EntityType),
		EntityID:   m.EntityID,
		Version:    m.Version,
	}, nil
}

type lotModel struct {
	ID             string
	AccountID      string
	Pool           string
	SourceType     string
	SourceID       string
	OriginalMicro  int64
	AvailableMicro int64
	ReservedMicro  int64
	ConsumedMicro  int64
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (lotModel) TableName() string { return "ledger_lots" }

func toLotModel(l *lot.Lot) *lotModel {
	return &lotModel{
		ID:             l.ID.String(),
		AccountID:      l.AccountID.String(),
		Pool:           string(l.Pool),
		SourceType:     string(l.SourceType),
		SourceID:       l.SourceID,
		OriginalMicro:  l.OriginalMicro.Int64(),
		AvailableMicro: l.AvailableMicro.Int64(),
		ReservedMicro:  l.ReservedMicro.Int64(),
		ConsumedMicro:  l.ConsumedMicro.Int64(),
		ExpiresAt:      l.ExpiresAt,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

func fromLotModel(m *lotModel) (*lot.Lot, error) {
	lid, err := id.ParseLotID(m.ID)
	if err != nil {
		return nil, err
	}
	aid, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &lot.Lot{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             lid,
		AccountID:      aid,
		Pool:           account.Pool(m.Pool),
		SourceType:     lot.SourceType(m.SourceType),
		SourceID:       m.SourceID,
		OriginalMicro:  types.MicroUSD(m.OriginalMicro),
		AvailableMicro: types.MicroUSD(m.AvailableMicro),
		ReservedMicro:  types.MicroUSD(m.ReservedMicro),
		ConsumedMicro:  types.MicroUSD(m.ConsumedMicro),
		ExpiresAt:      m.ExpiresAt,
	}, nil
}

type reservationModel struct {
	ID                 string
	AccountID          string
	Pool               string
	TotalReservedMicro int64
	Status             string
	BillingMode        string
	ExpiresAt          time.Time
	IdempotencyKey     string
	ActualCostMicro    *int64
	OverrunMicro       *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (reservationModel) TableName() string { return "ledger_reservations" }

func toReservationModel(r *reservation.Reservation) *reservationModel {
	m := &reservationModel{
		ID:                 r.ID.String(),
		AccountID:          r.AccountID.String(),
		Pool:               string(r.Pool),
		TotalReservedMicro: r.TotalReservedMicro.Int64(),
		Status:             string(r.Status),
		BillingMode:        string(r.BillingMode),
		ExpiresAt:          r.ExpiresAt,
		IdempotencyKey:     r.IdempotencyKey,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.ActualCostMicro != nil {
		v := r.ActualCostMicro.Int64()
		m.ActualCostMicro = &v
	}
	if r.OverrunMicro != nil {
		v := r.OverrunMicro.Int64()
		m.OverrunMicro = &v
	}
	return m
}

func fromReservationModel(m *reservationModel) (*reservation.Reservation, error) {
	rid, err := id.ParseReservationID(m.ID)
	if err != nil {
		return nil, err
	}
	aid, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	r := &reservation.Reservation{
		Entity:             types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 rid,
		AccountID:          aid,
		Pool:               account.Pool(m.Pool),
		TotalReservedMicro: types.MicroUSD(m.TotalReservedMicro),
		Status:             reservation.Status(m.Status),
		BillingMode:        reservation.BillingMode(m.BillingMode),
		ExpiresAt:          m.ExpiresAt,
		IdempotencyKey:     m.IdempotencyKey,
	}
	if m.ActualCostMicro != nil {
		v := types.MicroUSD(*m.ActualCostMicro)
		r.ActualCostMicro = &v
	}
	if m.OverrunMicro != nil {
		v := types.MicroUSD(*m.OverrunMicro)
		r.OverrunMicro = &v
	}
	return r, nil
}

type reservationLotModel struct {
	ReservationID string
	LotID         string
	ReservedMicro int64
	AllocSeq      int
}

func (reservationLotModel) TableName() string { return "ledger_reservation_lots" }

func toReservationLotModel(rl *reservation.Lot) *reservationLotModel {
	return &reservationLotModel{
		ReservationID: rl.ReservationID.String(),
		LotID:         rl.LotID.String(),
		ReservedMicro: rl.ReservedMicro.Int64(),
		AllocSeq:      rl.AllocSeq,
	}
}

func fromReservationLotModel(m *reservationLotModel) (*reservation.Lot, error) {
	rid, err := id.ParseReservationID(m.ReservationID)
	if err != nil {
		return nil, err
	}
	lid, err := id.ParseLotID(m.LotID)
	if err != nil {
		return nil, err
	}
	return &reservation.Lot{
		ReservationID: rid,
		LotID:         lid,
		ReservedMicro: types.MicroUSD(m.ReservedMicro),
		AllocSeq:      m.AllocSeq,
	}, nil
}

type ledgerEntryModel struct {
	ID             string
	AccountID      string
	Pool           string
	LotID          string
	ReservationID  string
	EntrySeq       int64
	EntryType      string
	AmountMicro    int64
	IdempotencyKey string
	PreBalance     int64
	PostBalance    int64
	CreatedAt      time.Time
}

func (ledgerEntryModel) TableName() string { return "ledger_entries" }

func toLedgerEntryModel(e *entry.Entry) *ledgerEntryModel {
	m := &ledgerEntryModel{
		ID:             e.ID.String(),
		AccountID:      e.AccountID.String(),
		Pool:           string(e.Pool),
		EntrySeq:       int64(e.EntrySeq),
		EntryType:      string(e.EntryType),
		AmountMicro:    e.AmountMicro,
		IdempotencyKey: e.IdempotencyKey,
		PreBalance:     e.PreBalance.Int64(),
		PostBalance:    e.PostBalance.Int64(),
		CreatedAt:      e.CreatedAt,
	}
	if !e.LotID.IsNil() {
		m.LotID = e.LotID.String()
	}
	if !e.ReservationID.IsNil() {
		m.ReservationID = e.ReservationID.String()
	}
	return m
}

func fromLedgerEntryModel(m *ledgerEntryModel) (*entry.Entry, error) {
	eid, err := id.ParseLedgerEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	aid, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	e := &entry.Entry{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.CreatedAt},
		ID:             eid,
		AccountID:      aid,
		Pool:           account.Pool(m.Pool),
		EntrySeq:       uint64(m.EntrySeq),
		EntryType:      entry.Type(m.EntryType),
		AmountMicro:    m.AmountMicro,
		IdempotencyKey: m.IdempotencyKey,
		PreBalance:     types.MicroUSD(m.PreBalance),
		PostBalance:    types.MicroUSD(m.PostBalance),
	}
	if m.LotID != "" {
		if lid, err := id.ParseLotID(m.LotID); err == nil {
			e.LotID = lid
		}
	}
	if m.ReservationID != "" {
		if rid, err := id.ParseReservationID(m.ReservationID); err == nil {
			e.ReservationID = rid
		}
	}
	return e, nil
}

type transferModel struct {
	ID              string
	IdempotencyKey  string
	FromAccountID   string
	ToAccountID     string
	AmountMicro     int64
	Status          string
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (transferModel) TableName() string { return "ledger_transfers" }

func toTransferModel(t *xfer.Transfer) *transferModel {
	return &transferModel{
		ID:              t.ID.String(),
		IdempotencyKey:  t.IdempotencyKey,
		FromAccountID:   t.FromAccountID.String(),
		ToAccountID:     t.ToAccountID.String(),
		AmountMicro:     t.AmountMicro.Int64(),
		Status:          string(t.Status),
		RejectionReason: t.RejectionReason,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func fromTransferModel(m *transferModel) (*xfer.Transfer, error) {
	tid, err := id.ParseTransferID(m.ID)
	if err != nil {
		return nil, err
	}
	from, err := id.ParseAccountID(m.FromAccountID)
	if err != nil {
		return nil, err
	}
	to, err := id.ParseAccountID(m.ToAccountID)
	if err != nil {
		return nil, err
	}
	return &xfer.Transfer{
		Entity:          types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              tid,
		IdempotencyKey:  m.IdempotencyKey,
		FromAccountID:   from,
		ToAccountID:     to,
		AmountMicro:     types.MicroUSD(m.AmountMicro),
		Status:          xfer.Status(m.Status),
		RejectionReason: m.RejectionReason,
	}, nil
}

type governanceConfigModel struct {
	ID                string
	ParamKey          string
	Value             string
	EntityType        string
	Version           int64
	Status            string
	RequiredApprovals int
	ApprovalCount     int
	ApproversCSV      string
	ProposedBy        string
	CooldownEndsAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (governanceConfigModel) TableName() string { return "ledger_governance_configs" }

func toGovernanceConfigModel(c *governance.Config) *governanceConfigModel {
	m := &governanceConfigModel{
		ID:                c.ID.String(),
		ParamKey:          c.ParamKey,
		Value:             c.Value,
		Version:           c.Version,
		Status:            string(c.Status),
		RequiredApprovals: c.RequiredApprovals,
		ApprovalCount:     c.ApprovalCount,
		ApproversCSV:      strings.Join(c.Approvers, ","),
		ProposedBy:        c.ProposedBy,
		CooldownEndsAt:    c.CooldownEndsAt,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	if c.EntityType != nil {
		m.EntityType = string(*c.EntityType)
	}
	return m
}

func fromGovernanceConfigModel(m *governanceConfigModel) (*governance.Config, error) {
	cid, err := id.ParseGovernanceConfigID(m.ID)
	if err != nil {
		return nil, err
	}
	cfg := &governance.Config{
		ID:                cid,
		ParamKey:          m.ParamKey,
		Value:             m.Value,
		Version:           m.Version,
		Status:            governance.Status(m.Status),
		RequiredApprovals: m.RequiredApprovals,
		ApprovalCount:     m.ApprovalCount,
		ProposedBy:        m.ProposedBy,
		CooldownEndsAt:    m.CooldownEndsAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.ApproversCSV != "" {
		cfg.Approvers = strings.Split(m.ApproversCSV, ",")
	}
	if m.EntityType != "" {
		et := account.EntityType(m.EntityType)
		cfg.EntityType = &et
	}
	return cfg, nil
}

type receivableModel struct {
	ID               string
	AccountID        string
	OriginalMicro    int64
	BalanceMicro     int64
	SourceClawbackID string
	Status           string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

func (receivableModel) TableName() string { return "ledger_receivables" }

func toReceivableModel(r *settlement.Receivable) *receivableModel {
	return &receivableModel{
		ID:               r.ID.String(),
		AccountID:        r.AccountID.String(),
		OriginalMicro:    r.OriginalMicro.Int64(),
		BalanceMicro:     r.BalanceMicro.Int64(),
		SourceClawbackID: r.SourceClawbackID,
		Status:           string(r.Status),
		CreatedAt:        r.CreatedAt,
		ResolvedAt:       r.ResolvedAt,
	}
}

func fromReceivableModel(m *receivableModel) (*settlement.Receivable, error) {
	rid, err := id.ParseReceivableID(m.ID)
	if err != nil {
		return nil, err
	}
	aid, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &settlement.Receivable{
		ID:               rid,
		AccountID:        aid,
		OriginalMicro:    types.MicroUSD(m.OriginalMicro),
		BalanceMicro:     types.MicroUSD(m.BalanceMicro),
		SourceClawbackID: m.SourceClawbackID,
		Status:           settlement.ReceivableStatus(m.Status),
		CreatedAt:        m.CreatedAt,
		ResolvedAt:       m.ResolvedAt,
	}, nil
}

type outboxEventModel struct {
	ID             string
	EventType      string
	AggregateType  string
	AggregateID    string
	CorrelationID  string
	IdempotencyKey string
	PayloadJSON    string
	CreatedAt      time.Time
	DeliveredAt    *time.Time
}

func (outboxEventModel) TableName() string { return "ledger_outbox_events" }

func toOutboxEventModel(e *outbox.Event) (*outboxEventModel, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return &outboxEventModel{
		ID:             e.ID.String(),
		EventType:      e.EventType,
		AggregateType:  e.AggregateType,
		AggregateID:    e.AggregateID,
		CorrelationID:  e.CorrelationID,
		IdempotencyKey: e.IdempotencyKey,
		PayloadJSON:    string(payload),
		CreatedAt:      e.CreatedAt,
		DeliveredAt:    e.DeliveredAt,
	}, nil
}

func fromOutboxEventModel(m *outboxEventModel) (*outbox.Event, error) {
	eid, err := id.ParseOutboxEventID(m.ID)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if m.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(m.PayloadJSON), &payload); err != nil {
			return nil, err
		}
	}
	return &outbox.Event{
		ID:             eid,
		EventType:      m.EventType,
		AggregateType:  m.AggregateType,
		AggregateID:    m.AggregateID,
		CorrelationID:  m.CorrelationID,
		IdempotencyKey: m.IdempotencyKey,
		Payload:        payload,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
	}, nil
}

type discountModel struct {
	ID             string
	Code           string
	Type           string
	AmountMicro    int64
	PercentageBps  int32
	Status         string
	MaxRedemptions int
	TimesRedeemed  int
	ValidFrom      *time.Time
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

func (discountModel) TableName() string { return "ledger_discounts" }

func toDiscountModel(d *discount.Discount) *discountModel {
	return &discountModel{
		ID:             d.ID.String(),
		Code:           d.Code,
		Type:           string(d.Type),
		AmountMicro:    d.AmountMicro,
		PercentageBps:  d.PercentageBps,
		Status:         string(d.Status),
		MaxRedemptions: d.MaxRedemptions,
		TimesRedeemed:  d.TimesRedeemed,
		ValidFrom:      d.ValidFrom,
		ExpiresAt:      d.ExpiresAt,
		CreatedAt:      d.CreatedAt,
	}
}

func fromDiscountModel(m *discountModel) (*discount.Discount, error) {
	did, err := id.ParseDiscountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &discount.Discount{
		ID:             did,
		Code:           m.Code,
		Type:           discount.Type(m.Type),
		AmountMicro:    m.AmountMicro,
		PercentageBps:  m.PercentageBps,
		Status:         discount.Status(m.Status),
		MaxRedemptions: m.MaxRedemptions,
		TimesRedeemed:  m.TimesRedeemed,
		ValidFrom:      m.ValidFrom,
		ExpiresAt:      m.ExpiresAt,
		CreatedAt:      m.CreatedAt,
	}, nil
}

// seqCounterModel backs per (account_id, pool) entry_seq allocation.
type seqCounterModel struct {
	AccountID string
	Pool      string
	NextSeq   int64
}

func (seqCounterModel) TableName() string { return "ledger_seq_counters" }

// idempotencyKeyModel backs the (scope, key) -> response hash table.
type idempotencyKeyModel struct {
	Scope        string
	Key          string
	ResponseHash string
	ExpiresAt    time.Time
}

func (idempotencyKeyModel) TableName() string { return "ledger_idempotency_keys" }
