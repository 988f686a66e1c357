// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jeranaias/innerguide/internal/model"
)

// =============================================================================
// DIALECTS
// =============================================================================

// Dialect names a SQL backend. The value is also the database/sql driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// schema returns the statements creating the turn table.
func (d Dialect) schema() []string {
	switch d {
	case DialectPostgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS chat_messages (
				seq        BIGSERIAL PRIMARY KEY,
				id         TEXT   NOT NULL UNIQUE,
				user_id    TEXT   NOT NULL,
				role       TEXT   NOT NULL,
				content    TEXT   NOT NULL,
				created_at BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_user_created ON chat_messages(user_id, created_at)`,
		}
	case DialectMySQL:
		return []string{
			"CREATE TABLE IF NOT EXISTS `chat_messages` (" +
				"`seq` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, " +
				"`id` VARCHAR(64) NOT NULL UNIQUE, " +
				"`user_id` VARCHAR(255) NOT NULL, " +
				"`role` VARCHAR(16) NOT NULL, " +
				"`content` MEDIUMTEXT NOT NULL, " +
				"`created_at` BIGINT NOT NULL, " +
				"INDEX `idx_chat_messages_user_created` (`user_id`, `created_at`)" +
				") CHARACTER SET utf8mb4",
		}
	default:
		return []string{
			`CREATE TABLE IF NOT EXISTS chat_messages (
				seq        INTEGER PRIMARY KEY AUTOINCREMENT,
				id         TEXT    NOT NULL UNIQUE,
				user_id    TEXT    NOT NULL,
				role       TEXT    NOT NULL,
				content    TEXT    NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_user_created ON chat_messages(user_id, created_at)`,
		}
	}
}

// isDuplicate reports whether err is a unique constraint violation.
func (d Dialect) isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062 // ER_DUP_ENTRY
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// =============================================================================
// SQL GATEWAY
// =============================================================================

// SQLGateway stores turns in a chat_messages table.
//
// created_at holds Unix microseconds; seq breaks ties so turns created in the
// same microsecond keep their insertion order.
type SQLGateway struct {
	db      *sql.DB
	dialect Dialect
}

var _ Gateway = (*SQLGateway)(nil)

// OpenSQL opens a database for dialect and ensures the schema exists.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLGateway, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.Errorf("%s gateway: empty dsn", dialect)
	}

	switch dialect {
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "parse mysql dsn")
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		if _, ok := cfg.Params["charset"]; !ok {
			cfg.Params["charset"] = "utf8mb4"
		}
		dsn = cfg.FormatDSN()
	case DialectPostgres, DialectSQLite:
	default:
		return nil, errors.Errorf("unknown sql dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dialect)
	}

	if dialect == DialectSQLite {
		// SQLite only supports one writer at a time, so limit connections.
		// This also keeps a ":memory:" database alive on a single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	g, err := NewSQLGateway(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

// NewSQLGateway wraps an open database and ensures the schema exists.
func NewSQLGateway(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLGateway, error) {
	if db == nil {
		return nil, errors.New("sql gateway: db is nil")
	}
	g := &SQLGateway{db: db, dialect: dialect}
	if err := g.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// EnsureSchema creates the chat_messages table and index when missing.
func (g *SQLGateway) EnsureSchema(ctx context.Context) error {
	if g.dialect == DialectSQLite {
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=5000",
		}
		for _, p := range pragmas {
			if _, err := g.db.ExecContext(ctx, p); err != nil {
				return errors.Wrapf(err, "sqlite %s", p)
			}
		}
	}
	for _, stmt := range g.dialect.schema() {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure chat_messages schema")
		}
	}
	return nil
}

// InsertTurn stores one turn for userID.
func (g *SQLGateway) InsertTurn(ctx context.Context, userID string, turn model.Turn) error {
	if err := validateTurn(userID, turn); err != nil {
		return err
	}

	p := g.dialect.placeholder
	stmt := fmt.Sprintf(
		`INSERT INTO chat_messages (id, user_id, role, content, created_at) VALUES (%s, %s, %s, %s, %s)`,
		p(1), p(2), p(3), p(4), p(5),
	)
	_, err := g.db.ExecContext(ctx, stmt,
		turn.ID, userID, turn.Role.String(), turn.Content, toMicros(turn.CreatedAt),
	)
	if err != nil {
		if g.dialect.isDuplicate(err) {
			return errors.Wrapf(ErrDuplicateTurn, "turn %s", turn.ID)
		}
		return errors.Wrap(err, "insert turn")
	}
	return nil
}

// ListTurns returns the user's turns selected by q.
func (g *SQLGateway) ListTurns(ctx context.Context, q Query) ([]model.Turn, error) {
	if err := validateUser(q.UserID); err != nil {
		return nil, err
	}

	p := g.dialect.placeholder
	args := []any{q.UserID}
	query := `SELECT id, role, content, created_at FROM chat_messages WHERE user_id = ` + p(1) +
		` ORDER BY created_at DESC, seq DESC`
	if q.Limit > 0 {
		query += ` LIMIT ` + p(2)
		args = append(args, q.Limit)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list turns")
	}
	defer rows.Close()

	turns := []model.Turn{}
	for rows.Next() {
		var (
			t       model.Turn
			role    string
			created int64
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &created); err != nil {
			return nil, errors.Wrap(err, "scan turn")
		}
		if t.Role, err = model.ParseRole(role); err != nil {
			return nil, errors.Wrapf(err, "turn %s", t.ID)
		}
		t.CreatedAt = fromMicros(created)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate turns")
	}

	if q.Order == Ascending {
		reverse(turns)
	}
	return turns, nil
}

// DeleteAllTurns removes every turn of userID.
func (g *SQLGateway) DeleteAllTurns(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	stmt := `DELETE FROM chat_messages WHERE user_id = ` + g.dialect.placeholder(1)
	if _, err := g.db.ExecContext(ctx, stmt, userID); err != nil {
		return errors.Wrap(err, "delete turns")
	}
	return nil
}

// Close closes the database.
func (g *SQLGateway) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us)
}
