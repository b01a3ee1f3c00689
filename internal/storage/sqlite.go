package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dripbot/internal/domain"
	logx "dripbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// table describes how one class is laid out. Individuals keep the inverted
// opted_out flag; groups store active directly.
type table struct {
	class domain.Class
	name  string
	// active is a boolean SQL expression over the row.
	active string
	// meta selects username, first_name, last_name, title (in that order).
	meta string

	upsert    string
	setActive string
}

var (
	usersTable = table{
		class:  domain.Individual,
		name:   "users",
		active: "opted_out = 0",
		meta:   "COALESCE(username,''), COALESCE(first_name,''), COALESCE(last_name,''), ''",
		upsert: `INSERT INTO users(chat_id, username, first_name, last_name, opted_out, created_ts)
			VALUES(?,?,?,?,0,?)
			ON CONFLICT(chat_id) DO UPDATE SET
				username=excluded.username,
				first_name=excluded.first_name,
				last_name=excluded.last_name,
				opted_out=0`,
		setActive: `UPDATE users SET opted_out = ? WHERE chat_id = ?`,
	}
	groupsTable = table{
		class:  domain.Group,
		name:   `"groups"`,
		active: "active = 1",
		meta:   "'', '', '', COALESCE(title,'')",
		upsert: `INSERT INTO "groups"(chat_id, title, active, created_ts)
			VALUES(?,?,1,?)
			ON CONFLICT(chat_id) DO UPDATE SET
				title=excluded.title,
				active=1`,
		setActive: `UPDATE "groups" SET active = ? WHERE chat_id = ?`,
	}
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time

	users  *classStore
	groups *classStore
}

func openSQLite(cfg Config, log logx.Logger, opts ...Option) (*sqliteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// One writer: SQLite serializes anyway and a single conn avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage")), now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(st)
		}
	}

	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	st.users = &classStore{db: db, t: usersTable, now: st.clock}
	st.groups = &classStore{db: db, t: groupsTable, now: st.clock}
	st.log.Info("storage opened", logx.String("path", cfg.Path))
	return st, nil
}

func (s *sqliteStore) clock() time.Time { return s.now() }

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Recipients(class domain.Class) RecipientStore {
	if class == domain.Group {
		return s.groups
	}
	return s.users
}

func (s *sqliteStore) Count(ctx context.Context, class domain.Class) (Counts, error) {
	t := usersTable
	if class == domain.Group {
		t = groupsTable
	}
	q := fmt.Sprintf(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN %[1]s THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN %[1]s AND (next_due_ts IS NULL OR next_due_ts <= ?) THEN 1 ELSE 0 END), 0)
		FROM %[2]s`, t.active, t.name)
	var c Counts
	if err := s.db.QueryRowContext(ctx, q, s.now().Unix()).Scan(&c.Total, &c.Active, &c.Due); err != nil {
		return Counts{}, fmt.Errorf("count %s: %w", class, err)
	}
	return c, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("storage closed")
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- per-class view ----

type classStore struct {
	db  *sql.DB
	t   table
	now func() time.Time
}

func (c *classStore) Class() domain.Class { return c.t.class }

func (c *classStore) Upsert(ctx context.Context, id int64, meta domain.Metadata) error {
	now := c.now().Unix()
	var err error
	if c.t.class == domain.Group {
		_, err = c.db.ExecContext(ctx, c.t.upsert, id, nullStr(meta.Title), now)
	} else {
		_, err = c.db.ExecContext(ctx, c.t.upsert, id,
			nullStr(meta.Username), nullStr(meta.FirstName), nullStr(meta.LastName), now)
	}
	if err != nil {
		return fmt.Errorf("upsert %s %d: %w", c.t.class, id, err)
	}
	return nil
}

func (c *classStore) SetActive(ctx context.Context, id int64, active bool) error {
	v := boolInt(active)
	if c.t.class == domain.Individual {
		v = boolInt(!active)
	}
	res, err := c.db.ExecContext(ctx, c.t.setActive, v, id)
	if err != nil {
		return fmt.Errorf("set active %s %d: %w", c.t.class, id, err)
	}
	return affectedOne(res)
}

func (c *classStore) Get(ctx context.Context, id int64) (*domain.Recipient, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE chat_id = ?`, c.columns(), c.t.name)
	r, err := c.scan(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", c.t.class, id, err)
	}
	return &r, nil
}

func (c *classStore) Due(ctx context.Context, now time.Time, limit int) ([]domain.Recipient, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT %s FROM %s
		WHERE %s AND (next_due_ts IS NULL OR next_due_ts <= ?)
		ORDER BY next_due_ts IS NOT NULL, next_due_ts, chat_id
		LIMIT ?`, c.columns(), c.t.name, c.t.active)
	rows, err := c.db.QueryContext(ctx, q, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("due %s: %w", c.t.class, err)
	}
	defer rows.Close()

	out := make([]domain.Recipient, 0, limit)
	for rows.Next() {
		r, err := c.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("due %s scan: %w", c.t.class, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("due %s: %w", c.t.class, err)
	}
	return out, nil
}

func (c *classStore) MarkSent(ctx context.Context, id int64, sentAt, nextDue time.Time, cursor int) error {
	q := fmt.Sprintf(`UPDATE %s SET last_sent_ts = ?, next_due_ts = ?, msg_index = ? WHERE chat_id = ?`, c.t.name)
	res, err := c.db.ExecContext(ctx, q, sentAt.Unix(), nextDue.Unix(), cursor, id)
	if err != nil {
		return fmt.Errorf("mark sent %s %d: %w", c.t.class, id, err)
	}
	return affectedOne(res)
}

func (c *classStore) columns() string {
	return fmt.Sprintf("chat_id, %s, last_sent_ts, next_due_ts, COALESCE(msg_index, 0), created_ts, %s", c.t.active, c.t.meta)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (c *classStore) scan(row rowScanner) (domain.Recipient, error) {
	var (
		r        domain.Recipient
		active   bool
		lastSent sql.NullInt64
		nextDue  sql.NullInt64
		created  int64
	)
	err := row.Scan(&r.ID, &active, &lastSent, &nextDue, &r.Cursor, &created,
		&r.Username, &r.FirstName, &r.LastName, &r.Title)
	if err != nil {
		return domain.Recipient{}, err
	}
	r.Class = c.t.class
	r.Active = active
	r.LastSentAt = unixPtr(lastSent)
	r.NextDueAt = unixPtr(nextDue)
	r.CreatedAt = time.Unix(created, 0).UTC()
	return r, nil
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
