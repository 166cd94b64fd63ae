// Package sweeper runs the ledger's time-driven background jobs:
// expiring pending reservations whose TTL has elapsed, activating
// governance configs whose cooldown has finished soaking, and expiring
// marketing discounts past their validity window. Each runs on its own
// ticker so a slow batch in one never delays the others.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/discount"
	"github.com/xraph/creditledger/entry"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/types"
)

const (
	// DefaultReservationInterval sits inside the 1-5s sweep cadence, near
	// its tighter end; callers can widen it under load.
	DefaultReservationInterval = 2 * time.Second
	DefaultReservationBatch    = 100

	DefaultGovernanceInterval = time.Hour
	DefaultDiscountInterval   = time.Hour
	DefaultDiscountBatch      = 100
)

// Sweeper owns the three background tickers. It is started and stopped
// independently of the core engine so a deployment can run it on a
// single elected instance while serving reads/writes from many.
type Sweeper struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	reservationInterval time.Duration
	reservationBatch    int
	governanceInterval  time.Duration
	discountInterval    time.Duration
	discountBatch       int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// WithReservationSweep overrides the reservation-expiry cadence and
// per-tick batch size.
func WithReservationSweep(interval time.Duration, batch int) Option {
	return func(s *Sweeper) {
		s.reservationInterval = interval
		s.reservationBatch = batch
	}
}

// WithGovernanceInterval overrides the governance-activation cadence.
func WithGovernanceInterval(interval time.Duration) Option {
	return func(s *Sweeper) { s.governanceInterval = interval }
}

// WithDiscountSweep overrides the discount-expiry cadence and per-tick
// batch size.
func WithDiscountSweep(interval time.Duration, batch int) Option {
	return func(s *Sweeper) {
		s.discountInterval = interval
		s.discountBatch = batch
	}
}

// New constructs a Sweeper bound to s. It does not start any ticker
// until Start is called.
func New(s store.Store, plugins *plugin.Registry, opts ...Option) *Sweeper {
	sw := &Sweeper{
		store:               s,
		plugins:             plugins,
		logger:              slog.Default(),
		reservationInterval: DefaultReservationInterval,
		reservationBatch:    DefaultReservationBatch,
		governanceInterval:  DefaultGovernanceInterval,
		discountInterval:    DefaultDiscountInterval,
		discountBatch:       DefaultDiscountBatch,
		stopChan:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Start launches the three ticker goroutines. It does not block.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(3)
	go s.reservationLoop(ctx)
	go s.governanceLoop(ctx)
	go s.discountLoop(ctx)

	s.logger.Info("sweeper started",
		"reservation_interval", s.reservationInterval,
		"governance_interval", s.governanceInterval,
		"discount_interval", s.discountInterval,
	)
}

// Stop signals all three loops to exit and waits for them to finish
// their current tick.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Sweeper) reservationLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.reservationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			n, err := s.sweepExpiredReservations(ctx)
			if err != nil {
				s.logger.Error("reservation sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("swept expired reservations", "count", n)
			}
		}
	}
}

func (s *Sweeper) governanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.governanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			n, err := s.activateGovernanceConfigs(ctx)
			if err != nil {
				s.logger.Error("governance activation sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("activated governance configs", "count", n)
			}
		}
	}
}

func (s *Sweeper) discountLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.discountInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			n, err := s.expireDiscounts(ctx)
			if err != nil {
				s.logger.Error("discount expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("expired discounts", "count", n)
			}
		}
	}
}

// sweepExpiredReservations finds pending reservations past their TTL,
// one batch at a time, returns each one's lot allocations from reserved
// to available, and records the release the same way a caller-initiated
// Release does — the only difference is who triggered it.
func (s *Sweeper) sweepExpiredReservations(ctx context.Context) (int, error) {
	asOf := time.Now().UTC()
	due, err := s.store.ListExpiredReservations(ctx, asOf, s.reservationBatch)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, r := range due {
		err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			fresh, err := tx.GetReservation(ctx, r.ID)
			if err != nil {
				return err
			}
			if fresh.Status != reservation.StatusPending {
				return nil // already finalized/released/expired by a concurrent caller
			}

			allocations, err := tx.ListReservationLots(ctx, fresh.ID)
			if err != nil {
				return err
			}
			for _, a := range allocations {
				l, err := tx.GetLot(ctx, a.LotID)
				if err != nil {
					return err
				}
				newReserved, err := l.ReservedMicro.Sub(a.ReservedMicro)
				if err != nil {
					return err
				}
				l.ReservedMicro = newReserved
				l.AvailableMicro = l.AvailableMicro.Add(a.ReservedMicro)
				if err := tx.UpdateLot(ctx, l); err != nil {
					return err
				}
			}

			fresh.MarkExpired()
			if err := tx.UpdateReservation(ctx, fresh); err != nil {
				return err
			}

			if _, err := appendReleaseEntry(ctx, tx, fresh.AccountID, fresh.Pool, fresh.TotalReservedMicro, fresh.ID); err != nil {
				return err
			}

			outbox.Append(ctx, tx, s.logger, outbox.New(
				"ledger.reservation_expired", "Reservation", fresh.ID.String(), "",
				map[string]any{"released_micro": fresh.TotalReservedMicro.Int64()},
			))

			r = fresh
			return nil
		})
		if err != nil {
			return swept, fmt.Errorf("sweeper: expire reservation %s: %w", r.ID.String(), err)
		}
		if r.Status == reservation.StatusExpired {
			s.plugins.EmitReservationExpired(ctx, r)
			swept++
		}
	}
	return swept, nil
}

// appendReleaseEntry posts the release-on-expiry ledger entry. Mirrors
// the core engine's own entry-posting sequence; duplicated here rather
// than imported, since the sweeper does not otherwise depend on it.
func appendReleaseEntry(ctx context.Context, tx store.Tx, accountID id.AccountID, pool account.Pool, amount types.MicroUSD, reservationID id.ReservationID) (*entry.Entry, error) {
	seq, err := tx.NextEntrySeq(ctx, accountID, pool)
	if err != nil {
		return nil, err
	}
	available, _, err := tx.GetBalanceProjection(ctx, accountID, pool)
	if err != nil {
		return nil, err
	}
	post := available
	pre := types.MustMicroUSD(post.Int64() - amount.Int64())

	e := entry.New(accountID, pool, entry.TypeRelease, amount.Int64())
	e.EntrySeq = seq
	e.PreBalance = pre
	e.PostBalance = post
	e.ReservationID = reservationID

	if err := tx.CreateLedgerEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// activateGovernanceConfigs runs the cron entry point for the governance
// approval state machine inside a single transaction so the activation
// and its predecessor's supersession commit atomically.
func (s *Sweeper) activateGovernanceConfigs(ctx context.Context) (int, error) {
	var activated []*governance.Config
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m := governance.NewMachine(tx)
		cfgs, err := m.ActivateExpiredCooldowns(ctx, time.Now().UTC())
		activated = cfgs
		return err
	})
	if err != nil {
		return len(activated), err
	}
	for _, cfg := range activated {
		s.plugins.EmitGovernanceActivated(ctx, cfg)
	}
	return len(activated), nil
}

// expireDiscounts marks generated marketing discounts past their
// expiry as expired, one batch at a time.
func (s *Sweeper) expireDiscounts(ctx context.Context) (int, error) {
	asOf := time.Now().UTC()
	due, err := s.store.ListExpiredDiscounts(ctx, asOf, s.discountBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, d := range due {
		d.Status = discount.StatusExpired
		if err := s.store.UpdateDiscount(ctx, d); err != nil {
			return expired, fmt.Errorf("sweeper: expire discount %s: %w", d.Code, err)
		}
		expired++
	}
	return expired, nil
}
