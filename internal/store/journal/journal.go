package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one evaluation cycle result kept for inspection and replay.
type Entry struct {
	ID               int64    `json:"id"`
	TraceID          string   `json:"trace_id"`
	Timestamp        int64    `json:"ts"`
	Symbol           string   `json:"symbol"`
	Regime           string   `json:"regime"`
	RegimeConfidence float64  `json:"regime_confidence"`
	Verdict          string   `json:"verdict"`
	Direction        int      `json:"direction"`
	Confidence       float64  `json:"confidence"`
	Magnitude        float64  `json:"magnitude"`
	Consensus        float64  `json:"consensus"`
	Reasoning        string   `json:"reasoning"`
	ShouldEnter      bool     `json:"should_enter"`
	Stop             float64  `json:"stop,omitempty"`
	Target           float64  `json:"target,omitempty"`
	RiskReward       float64  `json:"risk_reward,omitempty"`
	Phase            string   `json:"phase,omitempty"`
	Blockers         []string `json:"blockers,omitempty"`
}

// Query filters ListRecent.
type Query struct {
	Symbol string
	Limit  int
	Offset int
}

// Journal is the append-only evaluation log, backed by SQLite.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	ownsDB bool
}

// New opens (creating if needed) the journal database at path.
func New(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, ownsDB: true}, nil
}

// UseExternalDB reuses an already-open SQLite connection, so journal writes
// share the same WAL file and lock as the main store.
func (j *Journal) UseExternalDB(db *sql.DB) error {
	if j == nil {
		return fmt.Errorf("journal not initialized")
	}
	if db == nil {
		return fmt.Errorf("external db is required")
	}
	if err := ensureSchema(db); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ownsDB && j.db != nil && j.db != db {
		_ = j.db.Close()
	}
	j.db = db
	j.ownsDB = false
	return nil
}

// Close releases the database when owned.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil || !j.ownsDB {
		j.db = nil
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS evaluation_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			regime TEXT,
			regime_confidence REAL,
			verdict TEXT,
			direction INTEGER,
			confidence REAL,
			magnitude REAL,
			consensus REAL,
			reasoning TEXT,
			should_enter INTEGER NOT NULL DEFAULT 0,
			stop REAL,
			target REAL,
			risk_reward REAL,
			phase TEXT,
			blockers_json TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evaluation_journal_symbol_ts ON evaluation_journal(symbol, ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_evaluation_journal_trace ON evaluation_journal(trace_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("journal schema: %w", err)
		}
	}
	return nil
}

// Append writes one entry. A missing trace id or timestamp is filled in.
func (j *Journal) Append(ctx context.Context, e Entry) (string, error) {
	if j == nil {
		return "", fmt.Errorf("journal not initialized")
	}
	if strings.TrimSpace(e.TraceID) == "" {
		e.TraceID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	var blockersJSON []byte
	if len(e.Blockers) > 0 {
		blockersJSON, _ = json.Marshal(e.Blockers)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return "", fmt.Errorf("journal closed")
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO evaluation_journal
		(trace_id, ts, symbol, regime, regime_confidence, verdict, direction,
		 confidence, magnitude, consensus, reasoning, should_enter, stop, target,
		 risk_reward, phase, blockers_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TraceID, e.Timestamp, strings.ToUpper(strings.TrimSpace(e.Symbol)),
		e.Regime, e.RegimeConfidence, e.Verdict, e.Direction,
		e.Confidence, e.Magnitude, e.Consensus, e.Reasoning, boolToInt(e.ShouldEnter),
		e.Stop, e.Target, e.RiskReward, e.Phase, string(blockersJSON),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("journal append %s: %w", e.Symbol, err)
	}
	return e.TraceID, nil
}

// ListRecent returns entries newest first.
func (j *Journal) ListRecent(ctx context.Context, q Query) ([]Entry, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where := ""
	args := []any{}
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		where = "WHERE symbol = ?"
		args = append(args, sym)
	}
	args = append(args, q.Limit, q.Offset)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, fmt.Errorf("journal closed")
	}
	rows, err := j.db.QueryContext(ctx, fmt.Sprintf(`SELECT
		id, trace_id, ts, symbol, regime, regime_confidence, verdict, direction,
		confidence, magnitude, consensus, reasoning, should_enter, stop, target,
		risk_reward, phase, blockers_json
		FROM evaluation_journal %s
		ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var shouldEnter int
		var blockersJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Timestamp, &e.Symbol, &e.Regime,
			&e.RegimeConfidence, &e.Verdict, &e.Direction, &e.Confidence, &e.Magnitude,
			&e.Consensus, &e.Reasoning, &shouldEnter, &e.Stop, &e.Target,
			&e.RiskReward, &e.Phase, &blockersJSON); err != nil {
			return nil, err
		}
		e.ShouldEnter = shouldEnter != 0
		if blockersJSON.Valid && blockersJSON.String != "" {
			_ = json.Unmarshal([]byte(blockersJSON.String), &e.Blockers)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
