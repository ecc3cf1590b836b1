package swap

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Journal records runs, turns and swaps in SQLite so a run can be audited or
// replayed after the fact
type Journal struct {
	conn *sqlx.DB

	mu  sync.Mutex
	err error
}

var _ Observer = (*Journal)(nil)

// JournalRun is a row of the runs table
type JournalRun struct {
	ID        string  `db:"id"`
	Algorithm string  `db:"algorithm"`
	Started   int64   `db:"started"`
	Finished  *int64  `db:"finished"`
	Status    *string `db:"status"`
	Swaps     int     `db:"swaps"`
	Turns     int     `db:"turns"`
	Error     *string `db:"error"`
}

// JournalSwap is a row of the swaps table
type JournalSwap struct {
	Seq         int     `db:"seq"`
	Turn        int     `db:"turn"`
	Algorithm   string  `db:"algorithm"`
	Owner       string  `db:"owner"`
	Counterpart string  `db:"counterpart"`
	Seed        string  `db:"seed"`
	GivenJSON   string  `db:"given_json"`
	TakenJSON   string  `db:"taken_json"`
	Difference  float64 `db:"difference"`
	Score       float64 `db:"score"`
}

// Given decodes the units the owner gave away
func (s JournalSwap) Given() []UnitID {
	var ids []UnitID
	_ = json.Unmarshal([]byte(s.GivenJSON), &ids)
	return ids
}

// Taken decodes the units the owner received
func (s JournalSwap) Taken() []UnitID {
	var ids []UnitID
	_ = json.Unmarshal([]byte(s.TakenJSON), &ids)
	return ids
}

// OpenJournal opens or creates a journal database at path
func OpenJournal(path string) (*Journal, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{conn: conn}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.conn.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		algorithm TEXT NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER,
		status TEXT,
		swaps INTEGER NOT NULL DEFAULT 0,
		turns INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS turns (
		run_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		algorithm TEXT NOT NULL,
		owner_field TEXT NOT NULL,
		swaps INTEGER NOT NULL,
		total INTEGER NOT NULL,
		elapsed REAL NOT NULL,
		PRIMARY KEY (run_id, turn)
	);

	CREATE TABLE IF NOT EXISTS swaps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		turn INTEGER NOT NULL,
		algorithm TEXT NOT NULL,
		owner TEXT NOT NULL,
		counterpart TEXT NOT NULL,
		seed TEXT NOT NULL,
		given_json TEXT NOT NULL,
		taken_json TEXT NOT NULL,
		difference REAL NOT NULL,
		score REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_run ON swaps(run_id, seq);
	`
	_, err := j.conn.Exec(schema)
	return err
}

// BeginRun registers a run before the engine starts
func (j *Journal) BeginRun(runID string, algorithm Algorithm) error {
	_, err := j.conn.Exec(
		"INSERT OR REPLACE INTO runs (id, algorithm, started) VALUES (?, ?, ?)",
		runID, string(algorithm), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	return nil
}

// SwapApplied implements Observer
func (j *Journal) SwapApplied(ev SwapEvent) {
	given, _ := json.Marshal(ev.Given)
	taken, _ := json.Marshal(ev.Taken)
	_, err := j.conn.Exec(`INSERT INTO swaps
		(run_id, seq, turn, algorithm, owner, counterpart, seed,
		 given_json, taken_json, difference, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Seq, ev.Turn, string(ev.Algorithm), string(ev.Owner),
		string(ev.Counterpart), string(ev.Seed), string(given), string(taken),
		ev.Difference, ev.Score,
	)
	j.record("insert swap", err)
}

// TurnCompleted implements Observer
func (j *Journal) TurnCompleted(ev TurnEvent) {
	_, err := j.conn.Exec(`INSERT OR REPLACE INTO turns
		(run_id, turn, algorithm, owner_field, swaps, total, elapsed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Tag.Turn, string(ev.Algorithm), ev.Tag.OwnerField,
		ev.Swaps, ev.Total, ev.Elapsed,
	)
	j.record("insert turn", err)
}

// RunFinished implements Observer
func (j *Journal) RunFinished(res Result) {
	var errText *string
	if res.Err != nil {
		s := res.Err.Error()
		errText = &s
	}
	_, err := j.conn.Exec(`INSERT INTO runs (id, algorithm, started, finished, status, swaps, turns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished = excluded.finished, status = excluded.status,
			swaps = excluded.swaps, turns = excluded.turns, error = excluded.error`,
		res.RunID, string(res.Algorithm), time.Now().Unix(), time.Now().Unix(),
		string(res.Status), res.SwapCount, res.Turns, errText,
	)
	j.record("finish run", err)
}

// Err returns the first write error, if any. Observer callbacks cannot fail
// the run, so errors are kept here and logged.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Journal) record(op string, err error) {
	if err == nil {
		return
	}
	log.Printf("[journal] %s: %v", op, err)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err == nil {
		j.err = fmt.Errorf("%s: %w", op, err)
	}
}

// Run returns the stored record of a run
func (j *Journal) Run(runID string) (JournalRun, error) {
	var r JournalRun
	err := j.conn.Get(&r,
		"SELECT id, algorithm, started, finished, status, swaps, turns, error FROM runs WHERE id = ?",
		runID,
	)
	return r, err
}

// Swaps returns the swaps of a run in application order
func (j *Journal) Swaps(runID string) ([]JournalSwap, error) {
	var swaps []JournalSwap
	err := j.conn.Select(&swaps,
		`SELECT seq, turn, algorithm, owner, counterpart, seed, given_json, taken_json, difference, score
		FROM swaps WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	return swaps, err
}

// TurnCount returns how many turns were recorded for a run
func (j *Journal) TurnCount(runID string) (int, error) {
	var n int
	err := j.conn.Get(&n, "SELECT COUNT(*) FROM turns WHERE run_id = ?", runID)
	return n, err
}
