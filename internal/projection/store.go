package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"OptionLedger/internal/core"
	"OptionLedger/internal/options"
	"OptionLedger/internal/pool"
)

// Store writes read models. Every write carries the sequence it reflects and
// never overwrites a row with an older one, so outputs may be re-applied.
type Store interface {
	Watermark(ctx context.Context) (int64, error)
	Apply(ctx context.Context, seq int64, out *Update) error
}

// Update is the set of entity rows one write touches.
type Update struct {
	Balances []core.BalanceUpdate
	Pools    []pool.Stats
	Tranches []core.TrancheUpdate
	Options  []options.Option
}

func updateFromOutput(out core.CoreOutput) *Update {
	return &Update{Balances: out.Balances, Pools: out.Pools, Tranches: out.Tranches, Options: out.Options}
}

func updateFromState(st core.ProjectionState) *Update {
	return &Update{Balances: st.Balances, Pools: st.Pools, Tranches: st.Tranches, Options: st.Options}
}

// watermarkName is the row this worker owns in projections.watermark.
const watermarkName = "main"

// PostgresStore keeps the projections schema.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Watermark returns the last projected sequence, -1 when nothing is projected.
func (s *PostgresStore) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = $1`, watermarkName,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (s *PostgresStore) Apply(ctx context.Context, seq int64, u *Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range u.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (owner, asset_id, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
			WHERE projections.balances.last_sequence <= EXCLUDED.last_sequence
		`, b.Owner.Hex(), uint16(b.Asset), b.Balance.String(), seq); err != nil {
			return fmt.Errorf("balance %s: %w", b.Owner.Hex(), err)
		}
	}

	for _, p := range u.Pools {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pools
				(address, asset_id, total_balance, locked_amount, total_share, hedged_share,
				 unhedged_share, hedge_fee_rate, hedge_pool, lockup_period, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (address) DO UPDATE SET
				total_balance = EXCLUDED.total_balance,
				locked_amount = EXCLUDED.locked_amount,
				total_share = EXCLUDED.total_share,
				hedged_share = EXCLUDED.hedged_share,
				unhedged_share = EXCLUDED.unhedged_share,
				hedge_fee_rate = EXCLUDED.hedge_fee_rate,
				hedge_pool = EXCLUDED.hedge_pool,
				lockup_period = EXCLUDED.lockup_period,
				last_sequence = EXCLUDED.last_sequence
			WHERE projections.pools.last_sequence <= EXCLUDED.last_sequence
		`, p.Address.Hex(), uint16(p.Asset), p.TotalBalance.String(), p.LockedAmount.String(),
			p.TotalShare.String(), p.HedgedShare.String(), p.UnhedgedShare.String(),
			p.HedgeFeeRate, p.HedgePool.Hex(), p.LockupPeriod, seq); err != nil {
			return fmt.Errorf("pool %s: %w", p.Address.Hex(), err)
		}
	}

	for _, t := range u.Tranches {
		tr := t.Tranche
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.tranches
				(pool, tranche_id, owner, approved, state, share, amount, hedged, created_at, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (pool, tranche_id) DO UPDATE SET
				owner = EXCLUDED.owner,
				approved = EXCLUDED.approved,
				state = EXCLUDED.state,
				last_sequence = EXCLUDED.last_sequence
			WHERE projections.tranches.last_sequence <= EXCLUDED.last_sequence
		`, t.Pool.Hex(), tr.ID, tr.Owner.Hex(), tr.Approved.Hex(), int16(tr.State),
			tr.Share.String(), tr.Amount.String(), tr.Hedged, tr.CreatedAt, seq); err != nil {
			return fmt.Errorf("tranche %s/%d: %w", t.Pool.Hex(), tr.ID, err)
		}
	}

	for _, o := range u.Options {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.options
				(option_id, holder, approved, state, option_type, strike, amount, expiration,
				 created_at, pool, locked_liquidity_id, settlement_fee, premium, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (option_id) DO UPDATE SET
				holder = EXCLUDED.holder,
				approved = EXCLUDED.approved,
				state = EXCLUDED.state,
				last_sequence = EXCLUDED.last_sequence
			WHERE projections.options.last_sequence <= EXCLUDED.last_sequence
		`, o.ID, o.Holder.Hex(), o.Approved.Hex(), int16(o.State), int16(o.Type),
			o.Strike.String(), o.Amount.String(), o.Expiration, o.CreatedAt, o.Pool.Hex(),
			o.LockedLiquidityID, o.SettlementFee.String(), o.Premium.String(), seq); err != nil {
			return fmt.Errorf("option %d: %w", o.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
		WHERE projections.watermark.last_sequence <= $2
	`, watermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return tx.Commit()
}

// Truncate clears every projection table and the watermark.
func (s *PostgresStore) Truncate(ctx context.Context) error {
	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.pools`,
		`TRUNCATE projections.tranches`,
		`TRUNCATE projections.options`,
		`DELETE FROM projections.watermark WHERE projection_name = '` + watermarkName + `'`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}
	return nil
}
