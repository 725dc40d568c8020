package warehouse

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strings"

	"marketlake/internal/errs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Bootstrap creates the DSN's database if needed, applies every
// embedded migration and returns a connection to the target database.
func Bootstrap(ctx context.Context, dsn string) (*Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	admin, err := NewConnWithDatabase(ctx, dsn, "default")
	if err != nil {
		return nil, err
	}
	if err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		admin.Close()
		return nil, errs.E(errs.KindIntegration, fmt.Errorf("create database %s: %w", dbName, err))
	}
	if err := admin.Close(); err != nil {
		return nil, errs.E(errs.KindIntegration, fmt.Errorf("close admin connection: %w", err))
	}

	conn, err := NewConn(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate applies the embedded DDL files in name order. Every statement
// uses IF NOT EXISTS so reruns are no-ops.
func Migrate(ctx context.Context, conn *Conn) error {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return errs.E(errs.KindIntegration, fmt.Errorf("read embedded migrations: %w", err))
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationFS, "migrations/"+file)
		if err != nil {
			return errs.E(errs.KindIntegration, fmt.Errorf("read migration %s: %w", file, err))
		}
		if err := validateNoSemicolonInStrings(string(data)); err != nil {
			return errs.E(errs.KindIntegration, fmt.Errorf("validate migration %s: %w", file, err))
		}
		// The driver rejects multi-statement Exec, so files are split
		// on semicolons and applied one statement at a time.
		for _, stmt := range splitStatements(string(data)) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return errs.E(errs.KindIntegration, fmt.Errorf("apply migration %s: %w", file, err))
			}
		}
	}
	return nil
}

// splitStatements splits DDL into statements on semicolons after
// dropping -- comment lines. Migration files must not put semicolons
// inside string literals; validateNoSemicolonInStrings enforces that
// before this runs.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}
	joined := strings.Join(filtered, "\n")

	var stmts []string
	for _, part := range strings.Split(joined, ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects SQL with semicolons inside
// single-quoted literals, which the simple splitter would cut apart.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal breaks the statement splitter")
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", errs.E(errs.KindIntegration, fmt.Errorf("parse clickhouse dsn: %w", err))
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", errs.Errorf(errs.KindIntegration, "clickhouse dsn missing database")
	}
	return db, nil
}
