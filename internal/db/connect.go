package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:attain.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/attain?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS terms (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS programs (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS program_outcomes (
  id TEXT PRIMARY KEY,
  program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
  term_id TEXT NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
  code TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  UNIQUE (code, program_id, term_id)
);

CREATE TABLE IF NOT EXISTS courses (
  id TEXT PRIMARY KEY,
  program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
  term_id TEXT NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
  code TEXT NOT NULL,
  name TEXT NOT NULL,
  credits INTEGER NOT NULL DEFAULT 3,
  UNIQUE (code, program_id, term_id)
);

CREATE TABLE IF NOT EXISTS learning_outcomes (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  code TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  UNIQUE (code, course_id)
);

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'homework',
  date TEXT NOT NULL DEFAULT '',
  total_score REAL NOT NULL,
  weight REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS assessment_lo_weights (
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  outcome_id TEXT NOT NULL REFERENCES learning_outcomes(id) ON DELETE CASCADE,
  weight REAL NOT NULL,
  PRIMARY KEY (assessment_id, outcome_id)
);

CREATE TABLE IF NOT EXISTS lo_po_weights (
  outcome_id TEXT NOT NULL REFERENCES learning_outcomes(id) ON DELETE CASCADE,
  program_outcome_id TEXT NOT NULL REFERENCES program_outcomes(id) ON DELETE CASCADE,
  weight REAL NOT NULL,
  PRIMARY KEY (outcome_id, program_outcome_id)
);

CREATE TABLE IF NOT EXISTS enrollments (
  student_id TEXT NOT NULL,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  letter_grade TEXT NOT NULL DEFAULT '',
  enrolled_at INTEGER NOT NULL,
  PRIMARY KEY (student_id, course_id)
);

CREATE TABLE IF NOT EXISTS grades (
  student_id TEXT NOT NULL,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  raw_score REAL NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (student_id, assessment_id)
);

CREATE TABLE IF NOT EXISTS student_lo_scores (
  student_id TEXT NOT NULL,
  outcome_id TEXT NOT NULL REFERENCES learning_outcomes(id) ON DELETE CASCADE,
  score REAL,             -- NULL means insufficient data, never 0
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (student_id, outcome_id)
);

CREATE TABLE IF NOT EXISTS student_po_scores (
  student_id TEXT NOT NULL,
  program_outcome_id TEXT NOT NULL REFERENCES program_outcomes(id) ON DELETE CASCADE,
  term_id TEXT NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
  score REAL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (student_id, program_outcome_id, term_id)
);

CREATE TABLE IF NOT EXISTS recalc_runs (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  state TEXT NOT NULL,     -- pending|running|committed|failed
  attempts INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
  "offset" INTEGER PRIMARY KEY AUTOINCREMENT, -- BIGSERIAL in Postgres
  typ TEXT NOT NULL,                        -- e.g. GradeChanged
  key TEXT NOT NULL,                        -- natural key: studentID|courseID
  data TEXT NOT NULL,                       -- JSON payload
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'student'
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS terms (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS programs (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS program_outcomes (
  id TEXT PRIMARY KEY,
  program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
  term_id TEXT NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
  code TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  UNIQUE (code, program_id, term_id)
);

CREATE TABLE IF NOT EXISTS courses (
  id TEXT PRIMARY KEY,
  program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
  term_id TEXT NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
  code TEXT NOT NULL,
  name TEXT NOT NULL,
  credits INTEGER NOT NULL DEFAULT 3,
  UNIQUE (code, program_id, term_id)
);

CREATE TABLE IF NOT EXISTS learning_outcomes (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  code TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  UNIQUE (code, course_id)
);

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'homework',
  date TEXT NOT NULL DEFAULT '',
  total_score DOUBLE PRECISION NOT NULL,
  weight DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS assessment_lo_weights (
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  outcome_id TEXT NOT NULL REFERENCES learning_outcomes(id) ON DELETE CASCADE,
  weight DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (assessment_id, outcome_id)
);

CREATE TABLE IF NOT EXISTS lo_po_weights (
  outcome_id TEXT NOT NULL REFERENCES learning_outcomes(id) ON DELETE CASCADE,
  program_outcome_id TEXT NOT NULL REFERENCES program_outcomes(id) ON DELETE CASCADE,
  weight DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (outcome_id, program_outcome_id)
);

CREATE TABLE IF NOT EXISTS enrollments (
  student_id TEXT NOT NULL,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  letter_grade TEXT NOT NULL DEFAULT '',
  enrolled_at BIGINT NOT NULL,
  PRIMARY KEY (student_id, course_id)
);

CREATE TABLE IF NOT EXISTS grades (
  student_id TEXT NOT NULL,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  raw_score DOUBLE PRECISION NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (student_id, assessment_id)
);

CREATE TABLE IF NOT EXISTS student_lo_scores (
  student_id TEXT NOT NULL,
  outcome_id TEXT NOT NULL REFERENCES learning_outcomes(id) ON DELETE CASCADE,
  score DOUBLE PRECISION,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (student_id, outcome_id)
);

CREATE TABLE IF NOT EXISTS student_po_scores (
  student_id TEXT NOT NULL,
  program_outcome_id TEXT NOT NULL REFERENCES program_outcomes(id) ON DELETE CASCADE,
  term_id TEXT NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
  score DOUBLE PRECISION,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (student_id, program_outcome_id, term_id)
);

CREATE TABLE IF NOT EXISTS recalc_runs (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  state TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
  "offset" BIGSERIAL PRIMARY KEY,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'student'
);
`
