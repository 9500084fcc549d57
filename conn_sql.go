package cachefn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// noExpiry marks rows written without a ttl.
const noExpiry int64 = 0

type sqlConnection struct {
	db         *sql.DB
	table      string
	driverName string
	prefix     string
	getStmt    *sql.Stmt
	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
}

var sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newSQLConnection(ctx context.Context, cfg ConnectionConfig) (Connection, error) {
	if cfg.SQLDriver == "" || cfg.DSN == "" {
		return nil, errors.New("sql driver requires driver name and dsn")
	}
	table := cfg.Table
	if table == "" {
		table = defaultSQLTable
	}
	if err := validateSQLTableName(table); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.SQLDriver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	c := &sqlConnection{
		db:         db,
		table:      table,
		driverName: cfg.SQLDriver,
		prefix:     cfg.Prefix,
	}
	if err := c.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := c.prepareStatements(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *sqlConnection) Driver() Driver { return DriverSQL }

func (c *sqlConnection) ensureSchema(ctx context.Context) error {
	var stmt string
	switch c.driverName {
	case "postgres", "pgx":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BYTEA NOT NULL,
			ea BIGINT NOT NULL
		);`, c.table)
	case "mysql":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k VARBINARY(255) PRIMARY KEY,
			v LONGBLOB NOT NULL,
			ea BIGINT NOT NULL
		) ENGINE=InnoDB;`, c.table)
	default: // sqlite
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL,
			ea INTEGER NOT NULL
		);`, c.table)
	}
	_, err := c.db.ExecContext(ctx, stmt)
	return err
}

func (c *sqlConnection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	var exp int64
	err := c.getStmt.QueryRowContext(ctx, c.cacheKey(key)).Scan(&v, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if exp != noExpiry && time.Now().UnixMilli() > exp {
		_ = c.Delete(ctx, key)
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

func (c *sqlConnection) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	exp := noExpiry
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixMilli()
	}
	if value == nil {
		value = []byte{}
	}
	_, err := c.upsertStmt.ExecContext(ctx, c.cacheKey(key), value, exp, value, exp)
	return err
}

func (c *sqlConnection) Delete(ctx context.Context, key string) error {
	_, err := c.deleteStmt.ExecContext(ctx, c.cacheKey(key))
	return err
}

func (c *sqlConnection) Close() error {
	for _, stmt := range []*sql.Stmt{c.getStmt, c.upsertStmt, c.deleteStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return c.db.Close()
}

func (c *sqlConnection) cacheKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

func (c *sqlConnection) upsertSQL() string {
	p1, p2, p3, p4, p5 := c.ph(1), c.ph(2), c.ph(3), c.ph(4), c.ph(5)
	switch c.driverName {
	case "postgres", "pgx":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT (k) DO UPDATE SET v = %s, ea = %s", c.table, p1, p2, p3, p4, p5)
	case "mysql":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON DUPLICATE KEY UPDATE v = %s, ea = %s", c.table, p1, p2, p3, p4, p5)
	default: // sqlite
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT(k) DO UPDATE SET v = %s, ea = %s", c.table, p1, p2, p3, p4, p5)
	}
}

func (c *sqlConnection) prepareStatements(ctx context.Context) error {
	var err error
	if c.getStmt, err = c.db.PrepareContext(ctx, fmt.Sprintf("SELECT v, ea FROM %s WHERE k = %s", c.table, c.ph(1))); err != nil {
		return err
	}
	if c.upsertStmt, err = c.db.PrepareContext(ctx, c.upsertSQL()); err != nil {
		return err
	}
	if c.deleteStmt, err = c.db.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE k = %s", c.table, c.ph(1))); err != nil {
		return err
	}
	return nil
}

// ph returns the positional placeholder for the configured driver.
func (c *sqlConnection) ph(i int) string {
	if c.driverName == "postgres" || c.driverName == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return fmt.Errorf("invalid sql table name %q", name)
		}
	}
	return nil
}
