package duckdb

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const schemaVersionDDL = `CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	file       VARCHAR NOT NULL,
	applied_at TIMESTAMP DEFAULT current_timestamp
)`

// schemaStep is one embedded DDL file. Files are named NNN_description.sql.
type schemaStep struct {
	version int
	file    string
	stmt    string
}

func schemaSteps() ([]schemaStep, error) {
	files, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return nil, err
	}
	steps := make([]schemaStep, 0, len(files))
	for _, f := range files {
		name := path.Base(f)
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("schema file %s: missing version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("schema file %s: bad version %q", name, prefix)
		}
		body, err := schemaFS.ReadFile(f)
		if err != nil {
			return nil, err
		}
		steps = append(steps, schemaStep{version: version, file: name, stmt: string(body)})
	}
	slices.SortFunc(steps, func(a, b schemaStep) int { return cmp.Compare(a.version, b.version) })
	for i := 1; i < len(steps); i++ {
		if steps[i].version == steps[i-1].version {
			return nil, fmt.Errorf("schema files %s and %s share version %d", steps[i-1].file, steps[i].file, steps[i].version)
		}
	}
	return steps, nil
}

// migrateSchema brings db up to the newest embedded schema version and
// returns that version. Each step commits together with its version row.
func migrateSchema(ctx context.Context, db *sql.DB, logger zerolog.Logger) (int, error) {
	if _, err := db.ExecContext(ctx, schemaVersionDDL); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	current, err := appliedSchemaVersion(ctx, db)
	if err != nil {
		return 0, err
	}
	steps, err := schemaSteps()
	if err != nil {
		return current, err
	}
	for _, st := range steps {
		if st.version <= current {
			continue
		}
		if err := applySchemaStep(ctx, db, st); err != nil {
			return current, fmt.Errorf("schema %s: %w", st.file, err)
		}
		current = st.version
		logger.Debug().Int("version", st.version).Str("file", st.file).Msg("schema step applied")
	}
	return current, nil
}

func applySchemaStep(ctx context.Context, db *sql.DB, st schemaStep) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, st.stmt); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_version (version, file) VALUES (?, ?)`, st.version, st.file); err != nil {
		return err
	}
	return tx.Commit()
}

func appliedSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT max(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// SchemaVersion returns the newest schema version applied to the database.
func (s *Store) SchemaVersion() (int, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()
	return appliedSchemaVersion(ctx, s.db)
}
