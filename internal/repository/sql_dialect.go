package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// dialect captures what differs between the relational engines: DDL and
// the way drivers report constraint violations.  Queries themselves use
// portable SQL with "?" placeholders.
type dialect struct {
	name         string
	schema       []string
	isUnique     func(error) bool
	isForeignKey func(error) bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return sqliteDialect, nil
	case "mysql":
		return mysqlDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported relational driver %q", driver)
}

var sqliteDialect = dialect{
	name: "sqlite3",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL,
			role          TEXT NOT NULL,
			created_at    DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS forms (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			owner_id    TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_forms_owner ON forms(owner_id)`,
		`CREATE TABLE IF NOT EXISTS questions (
			form_id     TEXT NOT NULL REFERENCES forms(id) ON DELETE CASCADE,
			pos         INTEGER NOT NULL,
			question_id TEXT NOT NULL,
			prompt      TEXT NOT NULL,
			ord         INTEGER NOT NULL,
			PRIMARY KEY (form_id, pos)
		)`,
		`CREATE TABLE IF NOT EXISTS form_assignments (
			form_id    TEXT NOT NULL REFERENCES forms(id) ON DELETE CASCADE,
			patient_id TEXT NOT NULL,
			pos        INTEGER NOT NULL,
			PRIMARY KEY (form_id, patient_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_patient ON form_assignments(patient_id)`,
		`CREATE TABLE IF NOT EXISTS responses (
			id           TEXT PRIMARY KEY,
			form_id      TEXT NOT NULL REFERENCES forms(id) ON DELETE CASCADE,
			form_title   TEXT NOT NULL DEFAULT '',
			patient_id   TEXT NOT NULL,
			submitted_at DATETIME NOT NULL,
			UNIQUE (form_id, patient_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_patient ON responses(patient_id)`,
		`CREATE TABLE IF NOT EXISTS answers (
			response_id   TEXT NOT NULL REFERENCES responses(id) ON DELETE CASCADE,
			pos           INTEGER NOT NULL,
			question_id   TEXT NOT NULL,
			question_text TEXT NOT NULL,
			answer_text   TEXT NOT NULL,
			PRIMARY KEY (response_id, pos)
		)`,
	},
	isUnique: func(err error) bool {
		var se sqlite3.Error
		if !errors.As(err, &se) {
			return false
		}
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	},
	isForeignKey: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	},
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            VARCHAR(64) NOT NULL PRIMARY KEY,
			username      VARCHAR(191) NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			name          TEXT NOT NULL,
			email         VARCHAR(320) NOT NULL,
			role          VARCHAR(32) NOT NULL,
			created_at    DATETIME(6) NOT NULL,
			UNIQUE KEY uq_users_username (username)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
		`CREATE TABLE IF NOT EXISTS forms (
			id          VARCHAR(64) NOT NULL PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL,
			owner_id    VARCHAR(64) NOT NULL,
			created_at  DATETIME(6) NOT NULL,
			updated_at  DATETIME(6) NOT NULL,
			KEY idx_forms_owner (owner_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
		`CREATE TABLE IF NOT EXISTS questions (
			form_id     VARCHAR(64) NOT NULL,
			pos         INT NOT NULL,
			question_id VARCHAR(191) NOT NULL,
			prompt      TEXT NOT NULL,
			ord         INT NOT NULL,
			PRIMARY KEY (form_id, pos),
			CONSTRAINT fk_questions_form FOREIGN KEY (form_id) REFERENCES forms(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
		`CREATE TABLE IF NOT EXISTS form_assignments (
			form_id    VARCHAR(64) NOT NULL,
			patient_id VARCHAR(64) NOT NULL,
			pos        INT NOT NULL,
			PRIMARY KEY (form_id, patient_id),
			KEY idx_assignments_patient (patient_id),
			CONSTRAINT fk_assignments_form FOREIGN KEY (form_id) REFERENCES forms(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
		`CREATE TABLE IF NOT EXISTS responses (
			id           VARCHAR(64) NOT NULL PRIMARY KEY,
			form_id      VARCHAR(64) NOT NULL,
			form_title   TEXT NOT NULL,
			patient_id   VARCHAR(64) NOT NULL,
			submitted_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_responses_form_patient (form_id, patient_id),
			KEY idx_responses_patient (patient_id),
			CONSTRAINT fk_responses_form FOREIGN KEY (form_id) REFERENCES forms(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
		`CREATE TABLE IF NOT EXISTS answers (
			response_id   VARCHAR(64) NOT NULL,
			pos           INT NOT NULL,
			question_id   VARCHAR(191) NOT NULL,
			question_text TEXT NOT NULL,
			answer_text   TEXT NOT NULL,
			PRIMARY KEY (response_id, pos),
			CONSTRAINT fk_answers_response FOREIGN KEY (response_id) REFERENCES responses(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	},
	isUnique: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == 1062
	},
	isForeignKey: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == 1452
	},
}
