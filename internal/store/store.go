package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"rebal/internal/backtest"
)

// ResultStore 管理 runs/events/curve 三张表，保存每条参数组合的
// 回测结果供查询与出图。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(path string) (*ResultStore, error) {
	if path == "" {
		return nil, fmt.Errorf("result store path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			status TEXT NOT NULL,
			estimator TEXT NOT NULL,
			strategy TEXT NOT NULL,
			alpha REAL NOT NULL,
			policy TEXT NOT NULL,
			band REAL NOT NULL,
			lambda REAL NOT NULL,
			final_wealth REAL NOT NULL DEFAULT 0,
			annualized_return REAL NOT NULL DEFAULT 0,
			annualized_vol REAL NOT NULL DEFAULT 0,
			sharpe REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			total_turnover REAL NOT NULL DEFAULT 0,
			total_cost REAL NOT NULL DEFAULT 0,
			rebalances INTEGER NOT NULL DEFAULT 0,
			spec_json TEXT NOT NULL,
			stats_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS rebalance_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			date INTEGER NOT NULL,
			executed INTEGER NOT NULL,
			turnover REAL NOT NULL,
			cost REAL NOT NULL,
			objective REAL,
			shrinkage REAL,
			target_json TEXT,
			weights_json TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS curve_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			date INTEGER NOT NULL,
			wealth REAL NOT NULL,
			ret REAL NOT NULL,
			drawdown REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON rebalance_events(run_id, date);`,
		`CREATE INDEX IF NOT EXISTS idx_curve_run ON curve_points(run_id, date);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun 事务性写入一条 run 及其全部事件与资金曲线。
func (s *ResultStore) SaveRun(ctx context.Context, run *backtest.Run) error {
	if run == nil {
		return fmt.Errorf("run 不能为空")
	}
	specJSON, err := run.MarshalSpec()
	if err != nil {
		return err
	}
	statsJSON, err := run.MarshalStats()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, label, status, estimator, strategy, alpha, policy, band, lambda,
			 final_wealth, annualized_return, annualized_vol, sharpe, max_drawdown,
			 total_turnover, total_cost, rebalances, spec_json, stats_json, message,
			 created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Label, run.Status,
		run.Key.Estimator.String(), run.Key.Strategy.String(), run.Key.Alpha,
		run.Key.Policy.String(), run.Key.Band, run.Key.Lambda,
		run.Stats.FinalWealth, run.Stats.AnnualizedReturn, run.Stats.AnnualizedVol,
		run.Stats.Sharpe, run.Stats.MaxDrawdownPct, run.Stats.TotalTurnover,
		run.Stats.TotalCost, run.Stats.Rebalances, string(specJSON), string(statsJSON),
		run.Message, run.CreatedAt.UnixMilli(), nullableTime(run.CompletedAt))
	if err != nil {
		return err
	}

	for _, ev := range run.Events {
		var targetJSON interface{}
		if ev.Target != nil {
			b, err := json.Marshal(ev.Target)
			if err != nil {
				return err
			}
			targetJSON = string(b)
		}
		weightsJSON, err := json.Marshal(ev.Weights)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rebalance_events
				(run_id, date, executed, turnover, cost, objective, shrinkage, target_json, weights_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, ev.Date.UnixMilli(), boolToInt(ev.Executed), ev.Turnover, ev.Cost,
			ev.Objective, ev.Shrinkage, targetJSON, string(weightsJSON)); err != nil {
			return err
		}
	}
	for _, pt := range run.Curve {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO curve_points (run_id, date, wealth, ret, drawdown)
			VALUES (?, ?, ?, ?, ?)`,
			run.ID, pt.Date.UnixMilli(), pt.Wealth, pt.Return, pt.Drawdown); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RunSummary 是列表查询的轻量视图，不带事件与曲线。
type RunSummary struct {
	ID               string    `json:"id"`
	Label            string    `json:"label"`
	Status           string    `json:"status"`
	Estimator        string    `json:"estimator"`
	Strategy         string    `json:"strategy"`
	Alpha            float64   `json:"alpha"`
	Policy           string    `json:"policy"`
	Band             float64   `json:"band"`
	Lambda           float64   `json:"lambda"`
	FinalWealth      float64   `json:"final_wealth"`
	AnnualizedReturn float64   `json:"annualized_return"`
	AnnualizedVol    float64   `json:"annualized_vol"`
	Sharpe           float64   `json:"sharpe"`
	MaxDrawdownPct   float64   `json:"max_drawdown_pct"`
	TotalTurnover    float64   `json:"total_turnover"`
	TotalCost        float64   `json:"total_cost"`
	Rebalances       int       `json:"rebalances"`
	Message          string    `json:"message"`
	CreatedAt        time.Time `json:"created_at"`
	CompletedAt      time.Time `json:"completed_at"`
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, status, estimator, strategy, alpha, policy, band, lambda,
		       final_wealth, annualized_return, annualized_vol, sharpe, max_drawdown,
		       total_turnover, total_cost, rebalances, message, created_at, completed_at
		FROM runs
		ORDER BY sharpe DESC, created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, sum)
	}
	return list, rows.Err()
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, status, estimator, strategy, alpha, policy, band, lambda,
		       final_wealth, annualized_return, annualized_vol, sharpe, max_drawdown,
		       total_turnover, total_cost, rebalances, message, created_at, completed_at
		FROM runs WHERE id=?`, id)
	return scanSummary(row)
}

func (s *ResultStore) ListEvents(ctx context.Context, runID string, limit int) ([]backtest.RebalanceEvent, error) {
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, executed, turnover, cost, objective, shrinkage, target_json, weights_json
		FROM rebalance_events
		WHERE run_id=?
		ORDER BY date ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []backtest.RebalanceEvent
	for rows.Next() {
		var ev backtest.RebalanceEvent
		var date int64
		var executed int
		var obj, shrink sql.NullFloat64
		var targetStr, weightsStr sql.NullString
		if err := rows.Scan(&date, &executed, &ev.Turnover, &ev.Cost, &obj, &shrink, &targetStr, &weightsStr); err != nil {
			return nil, err
		}
		ev.Date = timeFromMillis(date)
		ev.Executed = executed != 0
		if obj.Valid {
			ev.Objective = obj.Float64
		}
		if shrink.Valid {
			ev.Shrinkage = shrink.Float64
		}
		if targetStr.Valid && targetStr.String != "" {
			if err := json.Unmarshal([]byte(targetStr.String), &ev.Target); err != nil {
				return nil, err
			}
		}
		if weightsStr.Valid && weightsStr.String != "" {
			if err := json.Unmarshal([]byte(weightsStr.String), &ev.Weights); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListCurve(ctx context.Context, runID string, limit int) ([]backtest.CurvePoint, error) {
	if limit <= 0 || limit > 20000 {
		limit = 5000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, wealth, ret, drawdown
		FROM curve_points
		WHERE run_id=?
		ORDER BY date ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []backtest.CurvePoint
	for rows.Next() {
		var pt backtest.CurvePoint
		var date int64
		if err := rows.Scan(&date, &pt.Wealth, &pt.Return, &pt.Drawdown); err != nil {
			return nil, err
		}
		pt.Date = timeFromMillis(date)
		out = append(out, pt)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row scanner) (RunSummary, error) {
	var sum RunSummary
	var createdAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&sum.ID, &sum.Label, &sum.Status, &sum.Estimator, &sum.Strategy,
		&sum.Alpha, &sum.Policy, &sum.Band, &sum.Lambda, &sum.FinalWealth,
		&sum.AnnualizedReturn, &sum.AnnualizedVol, &sum.Sharpe, &sum.MaxDrawdownPct,
		&sum.TotalTurnover, &sum.TotalCost, &sum.Rebalances, &sum.Message,
		&createdAt, &completedAt); err != nil {
		return RunSummary{}, err
	}
	sum.CreatedAt = timeFromMillis(createdAt)
	if completedAt.Valid {
		sum.CompletedAt = timeFromMillis(completedAt.Int64)
	}
	return sum, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
