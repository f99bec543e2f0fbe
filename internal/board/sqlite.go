package board

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// schema contains the DDL executed on first open. Using IF NOT EXISTS makes
// it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS boards (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    stages     TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    board_id        TEXT NOT NULL,
    id              TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    stage           TEXT NOT NULL,
    customer_value  REAL,
    learning_value  REAL,
    required_skills TEXT NOT NULL DEFAULT '[]',
    effort          REAL NOT NULL DEFAULT 0,
    owner           TEXT NOT NULL DEFAULT '',
    blocked_by      TEXT NOT NULL DEFAULT '[]',
    created_at      TEXT NOT NULL,
    transitioned_at TEXT NOT NULL,
    version         INTEGER NOT NULL,
    PRIMARY KEY (board_id, id)
);

CREATE INDEX IF NOT EXISTS items_stage ON items (board_id, stage);

CREATE TABLE IF NOT EXISTS item_history (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    board_id   TEXT NOT NULL,
    item_id    TEXT NOT NULL,
    from_stage TEXT NOT NULL,
    to_stage   TEXT NOT NULL,
    owner      TEXT NOT NULL DEFAULT '',
    version    INTEGER NOT NULL,
    at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS item_history_item ON item_history (board_id, item_id);
`

const itemColumns = `board_id, id, title, stage, customer_value, learning_value,
	required_skills, effort, owner, blocked_by, created_at, transitioned_at, version`

// SQLiteStore implements Store using a local SQLite database in WAL mode.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables WAL
// mode and busy timeout, and creates the schema tables if they do not exist.
// Transactions begin IMMEDIATE so a writer waits out another process's write
// lock under the busy timeout instead of failing on lock upgrade.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("board: open database: %w", err)
	}

	// One connection: SQLite has a single writer, and serializing every
	// transaction through one connection makes the version check, the WIP
	// count and the update of a conditional write atomic within the process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("board: enable WAL mode: %w", err)
	}

	// Busy timeout avoids SQLITE_BUSY under concurrent access from external processes.
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("board: set busy timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("board: create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func sqliteDSN(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_txlock=immediate&_pragma=busy_timeout(5000)"
}

// isBusy reports whether err is SQLite refusing a lock held by another
// connection.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// PutBoard creates or replaces a board definition.
func (s *SQLiteStore) PutBoard(ctx context.Context, b Board) error {
	if err := b.Validate(); err != nil {
		return err
	}
	stages, err := json.Marshal(b.Stages)
	if err != nil {
		return fmt.Errorf("board: encode stages for %q: %w", b.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("board: begin tx for board %q: %w", b.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	counts, err := stageCounts(ctx, tx, b.ID)
	if err != nil {
		return err
	}
	if err := checkBoardUpdate(b, counts); err != nil {
		return err
	}

	const q = `
		INSERT INTO boards (id, name, stages, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name       = excluded.name,
			stages     = excluded.stages,
			updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, b.ID, b.Name, string(stages), formatTimestamp(s.now())); err != nil {
		return fmt.Errorf("board: put board %q: %w", b.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("board: commit board %q: %w", b.ID, err)
	}
	return nil
}

// stageCounts returns the number of items per stage on a board.
func stageCounts(ctx context.Context, tx *sql.Tx, boardID string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, "SELECT stage, COUNT(*) FROM items WHERE board_id = ? GROUP BY stage", boardID)
	if err != nil {
		return nil, fmt.Errorf("board: count stages for %q: %w", boardID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("board: scan stage count: %w", err)
		}
		counts[stage] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("board: iterate stage counts: %w", err)
	}
	return counts, nil
}

// Board returns a board definition.
func (s *SQLiteStore) Board(ctx context.Context, boardID string) (Board, error) {
	return s.board(ctx, s.db, boardID)
}

// queryer is the subset of *sql.DB and *sql.Tx used by shared helpers.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) board(ctx context.Context, q queryer, boardID string) (Board, error) {
	var b Board
	var stages string
	err := q.QueryRowContext(ctx, "SELECT id, name, stages FROM boards WHERE id = ?", boardID).Scan(&b.ID, &b.Name, &stages)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	if err != nil {
		return Board{}, fmt.Errorf("board: get board %q: %w", boardID, err)
	}
	if err := json.Unmarshal([]byte(stages), &b.Stages); err != nil {
		return Board{}, fmt.Errorf("board: decode stages for %q: %w", boardID, err)
	}
	return b, nil
}

// Boards returns every board ordered by ID.
func (s *SQLiteStore) Boards(ctx context.Context) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM boards ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("board: list boards: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("board: scan board id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("board: iterate boards: %w", err)
	}

	out := make([]Board, 0, len(ids))
	for _, id := range ids {
		b, err := s.Board(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Create inserts a new backlog item with version 1.
func (s *SQLiteStore) Create(ctx context.Context, it Item) (Item, error) {
	b, err := s.Board(ctx, it.BoardID)
	if err != nil {
		return Item{}, err
	}
	created, err := prepareCreate(&b, it, s.now())
	if err != nil {
		return Item{}, err
	}
	skills, blockers, err := encodeLists(created)
	if err != nil {
		return Item{}, err
	}

	const q = `INSERT INTO items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(board_id, id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q,
		created.BoardID, created.ID, created.Title, created.Stage,
		nullFloat(created.CustomerValue), nullFloat(created.LearningValue),
		skills, created.Effort, created.Owner, blockers,
		formatTimestamp(created.CreatedAt), formatTimestamp(created.TransitionedAt), created.Version)
	if err != nil {
		return Item{}, fmt.Errorf("board: create item %s/%s: %w", created.BoardID, created.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Item{}, fmt.Errorf("board: create item rows affected: %w", err)
	}
	if n == 0 {
		return Item{}, fmt.Errorf("%w: %s/%s", ErrDuplicateItem, created.BoardID, created.ID)
	}
	return created, nil
}

// Get returns a single item.
func (s *SQLiteStore) Get(ctx context.Context, boardID, itemID string) (Item, error) {
	return s.get(ctx, s.db, boardID, itemID)
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, boardID, itemID string) (Item, error) {
	row := q.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE board_id = ? AND id = ?", boardID, itemID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s/%s", ErrItemNotFound, boardID, itemID)
	}
	if err != nil {
		return Item{}, fmt.Errorf("board: get item %s/%s: %w", boardID, itemID, err)
	}
	return it, nil
}

// List returns the items of one stage.
func (s *SQLiteStore) List(ctx context.Context, boardID, stage string) ([]Item, error) {
	if _, err := s.Board(ctx, boardID); err != nil {
		return nil, err
	}
	const q = "SELECT " + itemColumns + " FROM items WHERE board_id = ? AND stage = ?"
	return s.queryItems(ctx, q, boardID, stage)
}

// ListAll returns every item on the board.
func (s *SQLiteStore) ListAll(ctx context.Context, boardID string) ([]Item, error) {
	if _, err := s.Board(ctx, boardID); err != nil {
		return nil, err
	}
	const q = "SELECT " + itemColumns + " FROM items WHERE board_id = ?"
	return s.queryItems(ctx, q, boardID)
}

// queryItems is a shared helper for scanning item rows. Ordering is applied
// in Go because timestamps are stored as text with variable precision.
func (s *SQLiteStore) queryItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("board: query items: %w", err)
	}
	defer rows.Close()

	var result []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("board: scan item: %w", err)
		}
		result = append(result, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("board: iterate items: %w", err)
	}
	SortItems(result)
	return result, nil
}

// ConditionalWrite stores it when the stored version equals expectedVersion.
// A write that still finds the database locked after the busy timeout is
// reported as ErrVersionConflict: the item may have changed under another
// writer and the caller should re-read it.
func (s *SQLiteStore) ConditionalWrite(ctx context.Context, it Item, expectedVersion int64) (Item, error) {
	next, err := s.conditionalWrite(ctx, it, expectedVersion)
	if err != nil && isBusy(err) && !errors.Is(err, ErrVersionConflict) {
		return Item{}, fmt.Errorf("%w: item %s: %w", ErrVersionConflict, it.ID, err)
	}
	return next, err
}

func (s *SQLiteStore) conditionalWrite(ctx context.Context, it Item, expectedVersion int64) (Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, fmt.Errorf("board: begin tx for item %s: %w", it.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	b, err := s.board(ctx, tx, it.BoardID)
	if err != nil {
		return Item{}, err
	}
	stored, err := s.get(ctx, tx, it.BoardID, it.ID)
	if err != nil {
		return Item{}, err
	}

	occupied := 0
	if stored.Stage != it.Stage {
		const q = "SELECT COUNT(*) FROM items WHERE board_id = ? AND stage = ? AND id != ?"
		if err := tx.QueryRowContext(ctx, q, it.BoardID, it.Stage, it.ID).Scan(&occupied); err != nil {
			return Item{}, fmt.Errorf("board: count stage %q: %w", it.Stage, err)
		}
	}
	if err := checkWrite(&b, stored, it, expectedVersion, occupied); err != nil {
		return Item{}, err
	}

	next := it.Clone()
	next.CreatedAt = stored.CreatedAt
	next.Version = expectedVersion + 1
	if next.TransitionedAt.IsZero() {
		next.TransitionedAt = stored.TransitionedAt
	}
	skills, blockers, err := encodeLists(next)
	if err != nil {
		return Item{}, err
	}

	const update = `
		UPDATE items SET
			title = ?, stage = ?, customer_value = ?, learning_value = ?,
			required_skills = ?, effort = ?, owner = ?, blocked_by = ?,
			transitioned_at = ?, version = ?
		WHERE board_id = ? AND id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, update,
		next.Title, next.Stage, nullFloat(next.CustomerValue), nullFloat(next.LearningValue),
		skills, next.Effort, next.Owner, blockers,
		formatTimestamp(next.TransitionedAt), next.Version,
		next.BoardID, next.ID, expectedVersion)
	if err != nil {
		return Item{}, fmt.Errorf("board: write item %s/%s: %w", next.BoardID, next.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Item{}, fmt.Errorf("board: write item rows affected: %w", err)
	}
	// Another process may have written between our read and update.
	if n == 0 {
		return Item{}, fmt.Errorf("%w: item %s changed during write", ErrVersionConflict, next.ID)
	}

	if stored.Stage != next.Stage {
		const hist = `INSERT INTO item_history (board_id, item_id, from_stage, to_stage, owner, version, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, hist, next.BoardID, next.ID, stored.Stage, next.Stage,
			next.Owner, next.Version, formatTimestamp(next.TransitionedAt)); err != nil {
			return Item{}, fmt.Errorf("board: append history for %s: %w", next.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Item{}, fmt.Errorf("board: commit item %s: %w", next.ID, err)
	}
	return next, nil
}

// History returns the recorded transitions of an item, oldest first.
func (s *SQLiteStore) History(ctx context.Context, boardID, itemID string) ([]Transition, error) {
	if _, err := s.Get(ctx, boardID, itemID); err != nil {
		return nil, err
	}
	const q = `SELECT board_id, item_id, from_stage, to_stage, owner, version, at
		FROM item_history WHERE board_id = ? AND item_id = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, q, boardID, itemID)
	if err != nil {
		return nil, fmt.Errorf("board: query history for %s: %w", itemID, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at string
		if err := rows.Scan(&t.BoardID, &t.ItemID, &t.From, &t.To, &t.Owner, &t.Version, &at); err != nil {
			return nil, fmt.Errorf("board: scan history: %w", err)
		}
		if t.At, err = parseTimestamp(at); err != nil {
			return nil, fmt.Errorf("board: parse history timestamp: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("board: iterate history: %w", err)
	}
	return out, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (Item, error) {
	var it Item
	var customer, learning sql.NullFloat64
	var skills, blockers, created, transitioned string
	if err := r.Scan(&it.BoardID, &it.ID, &it.Title, &it.Stage, &customer, &learning,
		&skills, &it.Effort, &it.Owner, &blockers, &created, &transitioned, &it.Version); err != nil {
		return Item{}, err
	}
	if customer.Valid {
		it.CustomerValue = Value(customer.Float64)
	}
	if learning.Valid {
		it.LearningValue = Value(learning.Float64)
	}
	if err := json.Unmarshal([]byte(skills), &it.RequiredSkills); err != nil {
		return Item{}, fmt.Errorf("decode required skills: %w", err)
	}
	if err := json.Unmarshal([]byte(blockers), &it.BlockedBy); err != nil {
		return Item{}, fmt.Errorf("decode blockers: %w", err)
	}
	var err error
	if it.CreatedAt, err = parseTimestamp(created); err != nil {
		return Item{}, err
	}
	if it.TransitionedAt, err = parseTimestamp(transitioned); err != nil {
		return Item{}, err
	}
	return it, nil
}

func encodeLists(it Item) (skills, blockers string, err error) {
	sk := it.RequiredSkills
	if sk == nil {
		sk = []string{}
	}
	bl := it.BlockedBy
	if bl == nil {
		bl = []string{}
	}
	skb, err := json.Marshal(sk)
	if err != nil {
		return "", "", fmt.Errorf("board: encode required skills: %w", err)
	}
	blb, err := json.Marshal(bl)
	if err != nil {
		return "", "", fmt.Errorf("board: encode blockers: %w", err)
	}
	return string(skb), string(blb), nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// timestampFormats lists the formats accepted when reading timestamps back.
// Rows written by this store use RFC 3339 with nanoseconds; the remaining
// layouts cover rows written by SQLite's CURRENT_TIMESTAMP.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.DateTime,
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp attempts to parse a SQLite timestamp string using known formats.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
