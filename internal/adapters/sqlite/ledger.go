package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"strikePilot/internal/domain"
	"strikePilot/internal/observ"
	"strikePilot/internal/ports"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Ledger implements ports.TradeLedger using SQLite. A partial unique index
// over non-terminal trades makes the database the authoritative guard
// against duplicate entries into the same opportunity; guarded single
// statement updates linearize transitions per trade ID.
type Ledger struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite ledger.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewLedger creates a new SQLite ledger instance.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite ledger")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trades.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the supervisor poll loop and
	// the auto-entry writer.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	// SQLite serializes writers; limiting the pool avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ledger := &Ledger{db: db, logger: cfg.Logger}
	if err := ledger.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize ledger schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite ledger ready", map[string]interface{}{"path": dbPath})
	return ledger, nil
}

// initializeSchema creates tables and the live-key uniqueness guard.
func (l *Ledger) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		instrument TEXT NOT NULL,
		ticker TEXT NOT NULL,
		strike REAL NOT NULL,
		side TEXT NOT NULL,
		requested_size INTEGER NOT NULL,
		requested_price REAL NOT NULL,
		state TEXT NOT NULL,
		broker_order_id TEXT DEFAULT NULL,
		fill_price REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		exit_reason TEXT DEFAULT NULL,
		review_required INTEGER NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);
	-- At most one live trade per opportunity key. This partial index is the
	-- authoritative duplicate-entry guard; application-level existence
	-- checks are a fast path only.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_live_key
		ON trades (instrument, strike, side)
		WHERE state IN ('pending', 'open', 'closing');
	CREATE INDEX IF NOT EXISTS idx_trades_state ON trades (state);
	CREATE INDEX IF NOT EXISTS idx_trades_broker_order ON trades (broker_order_id);
	CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades (opened_at);
	`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db != nil {
		l.logger.Info(context.Background(), "Closing SQLite ledger")
		return l.db.Close()
	}
	return nil
}

// Create persists a new Pending trade. Returns ports.ErrDuplicateTrade when
// a live trade already occupies the opportunity key.
func (l *Ledger) Create(ctx context.Context, trade *domain.Trade) error {
	const query = `
	INSERT INTO trades (id, instrument, ticker, strike, side, requested_size,
	                    requested_price, state, opened_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		trade.ID, trade.Instrument, trade.Ticker, trade.Strike, trade.Side,
		trade.RequestedSize, trade.RequestedPrice, domain.StatePending, trade.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %f %s", ports.ErrDuplicateTrade,
				trade.Instrument, trade.Strike, trade.Side)
		}
		return fmt.Errorf("failed to insert trade %s: %w", trade.ID, err)
	}
	trade.State = domain.StatePending
	observ.TradeTransitions.WithLabelValues(string(domain.StatePending)).Inc()
	l.logger.Debug(ctx, "Trade created", map[string]interface{}{
		"tradeID": trade.ID, "instrument": trade.Instrument, "strike": trade.Strike, "side": trade.Side,
	})
	return nil
}

// AttachBrokerOrder records the broker order ID on a Pending trade.
func (l *Ledger) AttachBrokerOrder(ctx context.Context, tradeID, brokerOrderID string) error {
	const query = `UPDATE trades SET broker_order_id = ? WHERE id = ? AND state = ?`
	return l.guardedUpdate(ctx, tradeID, domain.StatePending, query, brokerOrderID, tradeID, domain.StatePending)
}

// MarkOpen transitions Pending -> Open and records the fill price.
func (l *Ledger) MarkOpen(ctx context.Context, tradeID string, fillPrice float64) error {
	const query = `UPDATE trades SET state = ?, fill_price = ? WHERE id = ? AND state = ?`
	if err := l.guardedUpdate(ctx, tradeID, domain.StatePending, query,
		domain.StateOpen, fillPrice, tradeID, domain.StatePending); err != nil {
		return err
	}
	observ.TradeTransitions.WithLabelValues(string(domain.StateOpen)).Inc()
	return nil
}

// MarkClosing transitions Open -> Closing and records the exit reason.
func (l *Ledger) MarkClosing(ctx context.Context, tradeID string, reason domain.ExitReason) error {
	const query = `UPDATE trades SET state = ?, exit_reason = ? WHERE id = ? AND state = ?`
	if err := l.guardedUpdate(ctx, tradeID, domain.StateOpen, query,
		domain.StateClosing, string(reason), tradeID, domain.StateOpen); err != nil {
		return err
	}
	observ.TradeTransitions.WithLabelValues(string(domain.StateClosing)).Inc()
	return nil
}

// MarkClosed transitions Closing -> Closed and records realized P&L.
func (l *Ledger) MarkClosed(ctx context.Context, tradeID string, realizedPnL float64, closedAt time.Time) error {
	const query = `UPDATE trades SET state = ?, realized_pnl = ?, closed_at = ? WHERE id = ? AND state = ?`
	if err := l.guardedUpdate(ctx, tradeID, domain.StateClosing, query,
		domain.StateClosed, realizedPnL, closedAt, tradeID, domain.StateClosing); err != nil {
		return err
	}
	observ.TradeTransitions.WithLabelValues(string(domain.StateClosed)).Inc()
	return nil
}

// MarkRejected transitions Pending -> Rejected.
func (l *Ledger) MarkRejected(ctx context.Context, tradeID string, closedAt time.Time) error {
	const query = `UPDATE trades SET state = ?, closed_at = ? WHERE id = ? AND state = ?`
	if err := l.guardedUpdate(ctx, tradeID, domain.StatePending, query,
		domain.StateRejected, closedAt, tradeID, domain.StatePending); err != nil {
		return err
	}
	observ.TradeTransitions.WithLabelValues(string(domain.StateRejected)).Inc()
	return nil
}

// MarkForReview flags a trade for operator attention without changing state.
func (l *Ledger) MarkForReview(ctx context.Context, tradeID string) error {
	const query = `UPDATE trades SET review_required = 1 WHERE id = ?`
	result, err := l.db.ExecContext(ctx, query, tradeID)
	if err != nil {
		return fmt.Errorf("%w: failed to flag trade %s for review: %v", ports.ErrUpdateFailed, tradeID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %s: %w", tradeID, err)
	}
	if affected == 0 {
		return fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
	}
	l.logger.Warn(ctx, "Trade flagged for review", map[string]interface{}{"tradeID": tradeID})
	return nil
}

// guardedUpdate runs a state-guarded UPDATE and classifies a zero-row result
// as either a missing trade or an illegal transition.
func (l *Ledger) guardedUpdate(ctx context.Context, tradeID string, expected domain.TradeState, query string, args ...interface{}) error {
	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: failed to update trade %s: %v", ports.ErrUpdateFailed, tradeID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %s: %w", tradeID, err)
	}
	if affected == 0 {
		current, findErr := l.FindByID(ctx, tradeID)
		if findErr != nil {
			return findErr
		}
		if current == nil {
			return fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
		}
		return fmt.Errorf("%w: trade %s is %s, expected %s",
			ports.ErrInvalidTransition, tradeID, current.State, expected)
	}
	return nil
}

const tradeColumns = `id, instrument, ticker, strike, side, requested_size,
	requested_price, state, broker_order_id, fill_price, realized_pnl,
	COALESCE(exit_reason, ''), review_required, opened_at, closed_at`

// FindByID retrieves a trade by its unique ID. Returns nil, nil when absent.
func (l *Ledger) FindByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`
	trade, err := scanTrade(l.db.QueryRowContext(ctx, query, tradeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to query trade %s: %v", ports.ErrQueryFailed, tradeID, err)
	}
	return trade, nil
}

// FindLiveByKey returns the live trade occupying the opportunity key, or nil, nil.
func (l *Ledger) FindLiveByKey(ctx context.Context, key domain.OpportunityKey) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
	WHERE instrument = ? AND strike = ? AND side = ? AND state IN ('pending', 'open', 'closing')`
	trade, err := scanTrade(l.db.QueryRowContext(ctx, query, key.Instrument, key.Strike, key.Side))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to query live trade for %s/%f/%s: %v",
			ports.ErrQueryFailed, key.Instrument, key.Strike, key.Side, err)
	}
	return trade, nil
}

// FindByStates returns all trades currently in any of the given states.
func (l *Ledger) FindByStates(ctx context.Context, states ...domain.TradeState) ([]*domain.Trade, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("%w: FindByStates needs at least one state", ports.ErrInvalidRequest)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE state IN (` + placeholders + `) ORDER BY opened_at`
	args := make([]interface{}, len(states))
	for i, s := range states {
		args[i] = s
	}
	return l.queryTrades(ctx, query, args...)
}

// History returns trades matching the filter, most recent first.
func (l *Ledger) History(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`)
	var args []interface{}
	if filter.Instrument != "" {
		sb.WriteString(` AND instrument = ?`)
		args = append(args, filter.Instrument)
	}
	if filter.State != "" {
		sb.WriteString(` AND state = ?`)
		args = append(args, filter.State)
	}
	if !filter.Since.IsZero() {
		sb.WriteString(` AND opened_at >= ?`)
		args = append(args, filter.Since)
	}
	sb.WriteString(` ORDER BY opened_at DESC`)
	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}
	return l.queryTrades(ctx, sb.String(), args...)
}

// CountLive returns the number of live (pending/open/closing) trades.
func (l *Ledger) CountLive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE state IN ('pending', 'open', 'closing')`
	var count int
	if err := l.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count live trades: %v", ports.ErrQueryFailed, err)
	}
	return count, nil
}

func (l *Ledger) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: trade query failed: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// --- Helpers ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var brokerOrderID sql.NullString
	var closedAt sql.NullTime
	var exitReason string
	var state string
	err := s.Scan(
		&t.ID, &t.Instrument, &t.Ticker, &t.Strike, &t.Side, &t.RequestedSize,
		&t.RequestedPrice, &state, &brokerOrderID, &t.FillPrice, &t.RealizedPnL,
		&exitReason, &t.ReviewRequired, &t.OpenedAt, &closedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.State = domain.TradeState(state)
	t.ExitReason = domain.ExitReason(exitReason)
	if brokerOrderID.Valid {
		t.BrokerOrderID = &brokerOrderID.String
	}
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	return t, nil
}

// isUniqueViolation reports whether err is the driver's unique-constraint error.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
