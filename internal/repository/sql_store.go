package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/psych-forms/internal/model"
)

// SQLStore persists entities in normalized relational tables: questions,
// assignments and answers live in child tables keyed by their parent and
// position.  It works against SQLite and MySQL through database/sql.
//
// Every write runs in a transaction.  Rows are always fully read and
// closed before the next statement, so the store also works on a pool
// limited to one connection.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

var _ Store = (*SQLStore)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// NewSQLStore binds a store to db and creates the schema if missing.
// driver selects the dialect ("sqlite3" or "mysql").
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.name, err)
		}
	}
	return nil
}

// Driver returns the dialect name.
func (s *SQLStore) Driver() string { return s.d.name }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// exists reports whether table has a row with the given id.  table is
// always a constant from this file.
func exists(ctx context.Context, q queryer, table, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// queryIDs runs a single-column query and returns every value.
func queryIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// whereClause joins conditions with AND; empty input yields "".
func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// ---- users ----

const userCols = `id, username, password_hash, name, email, role, created_at`

func scanUser(r rowScanner) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	if err := r.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, &u.Email, &role, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	u.CreatedAt = normalizeTime(u.CreatedAt)
	return &u, nil
}

func (s *SQLStore) userConflict(err error) error {
	if s.d.isUnique(err) {
		return ErrUsernameTaken
	}
	return err
}

func (s *SQLStore) InsertUser(ctx context.Context, u *model.User) error {
	cp := normalizeUser(u)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "users", cp.ID)
		if err != nil {
			return err
		}
		if ok {
			return ErrDuplicateID
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO users (`+userCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cp.ID, cp.Username, cp.PasswordHash, cp.Name, cp.Email, string(cp.Role), cp.CreatedAt)
		return s.userConflict(err)
	})
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id))
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username = ?`, username))
}

func (s *SQLStore) ListUsers(ctx context.Context, f UserFilter) ([]*model.User, error) {
	var (
		conds []string
		args  []any
	)
	if f.Role != "" {
		conds = append(conds, "role = ?")
		args = append(args, string(f.Role))
	}
	if f.Username != "" {
		conds = append(conds, "username = ?")
		args = append(args, f.Username)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users`+whereClause(conds)+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateUser(ctx context.Context, id string, p UserPatch) (*model.User, error) {
	var out *model.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if p.Name != nil {
			u.Name = *p.Name
		}
		if p.Email != nil {
			u.Email = *p.Email
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET name = ?, email = ? WHERE id = ?`, u.Name, u.Email, id); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) UpsertUser(ctx context.Context, u *model.User) error {
	cp := normalizeUser(u)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "users", cp.ID)
		if err != nil {
			return err
		}
		if ok {
			_, err = tx.ExecContext(ctx,
				`UPDATE users SET username = ?, password_hash = ?, name = ?, email = ?, role = ?, created_at = ? WHERE id = ?`,
				cp.Username, cp.PasswordHash, cp.Name, cp.Email, string(cp.Role), cp.CreatedAt, cp.ID)
		} else {
			_, err = tx.ExecContext(ctx, `INSERT INTO users (`+userCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				cp.ID, cp.Username, cp.PasswordHash, cp.Name, cp.Email, string(cp.Role), cp.CreatedAt)
		}
		return s.userConflict(err)
	})
}

// ---- forms ----

func loadForm(ctx context.Context, q queryer, id string) (*model.Form, error) {
	f := model.Form{Questions: []model.Question{}, AssignedPatients: []string{}}
	err := q.QueryRowContext(ctx,
		`SELECT id, title, description, owner_id, created_at, updated_at FROM forms WHERE id = ?`, id).
		Scan(&f.ID, &f.Title, &f.Description, &f.OwnerID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.CreatedAt = normalizeTime(f.CreatedAt)
	f.UpdatedAt = normalizeTime(f.UpdatedAt)

	rows, err := q.QueryContext(ctx, `SELECT question_id, prompt, ord FROM questions WHERE form_id = ? ORDER BY pos`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var qn model.Question
		if err := rows.Scan(&qn.ID, &qn.Text, &qn.Order); err != nil {
			rows.Close()
			return nil, err
		}
		f.Questions = append(f.Questions, qn)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	assigned, err := queryIDs(ctx, q, `SELECT patient_id FROM form_assignments WHERE form_id = ? ORDER BY pos`, id)
	if err != nil {
		return nil, err
	}
	f.AssignedPatients = assigned
	return &f, nil
}

// writeFormChildren replaces the question and assignment rows of f.
func writeFormChildren(ctx context.Context, tx *sql.Tx, f *model.Form) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE form_id = ?`, f.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM form_assignments WHERE form_id = ?`, f.ID); err != nil {
		return err
	}
	if len(f.Questions) > 0 {
		query := `INSERT INTO questions (form_id, pos, question_id, prompt, ord) VALUES `
		args := make([]any, 0, len(f.Questions)*5)
		for i, qn := range f.Questions {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?)"
			args = append(args, f.ID, i, qn.ID, qn.Text, qn.Order)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	if len(f.AssignedPatients) > 0 {
		query := `INSERT INTO form_assignments (form_id, patient_id, pos) VALUES `
		args := make([]any, 0, len(f.AssignedPatients)*3)
		for i, pid := range f.AssignedPatients {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?)"
			args = append(args, f.ID, pid, i)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) InsertForm(ctx context.Context, f *model.Form) error {
	cp := normalizeForm(f)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "forms", cp.ID)
		if err != nil {
			return err
		}
		if ok {
			return ErrDuplicateID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO forms (id, title, description, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			cp.ID, cp.Title, cp.Description, cp.OwnerID, cp.CreatedAt, cp.UpdatedAt); err != nil {
			if s.d.isUnique(err) {
				return ErrDuplicateID
			}
			return err
		}
		return writeFormChildren(ctx, tx, cp)
	})
}

func (s *SQLStore) GetForm(ctx context.Context, id string) (*model.Form, error) {
	return loadForm(ctx, s.db, id)
}

func (s *SQLStore) ListForms(ctx context.Context, flt FormFilter) ([]*model.Form, error) {
	var (
		query = `SELECT f.id FROM forms f`
		conds []string
		args  []any
	)
	if flt.AssignedTo != "" {
		query += ` JOIN form_assignments a ON a.form_id = f.id AND a.patient_id = ?`
		args = append(args, flt.AssignedTo)
	}
	if flt.OwnerID != "" {
		conds = append(conds, "f.owner_id = ?")
		args = append(args, flt.OwnerID)
	}
	ids, err := queryIDs(ctx, s.db, query+whereClause(conds)+` ORDER BY f.created_at, f.id`, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Form, 0, len(ids))
	for _, id := range ids {
		f, err := loadForm(ctx, s.db, id)
		if errors.Is(err, ErrNotFound) {
			continue // deleted between the two reads
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *SQLStore) UpdateForm(ctx context.Context, id string, p FormPatch) (*model.Form, error) {
	var out *model.Form
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		f, err := loadForm(ctx, tx, id)
		if err != nil {
			return err
		}
		p.apply(f)
		if _, err := tx.ExecContext(ctx,
			`UPDATE forms SET title = ?, description = ?, updated_at = ? WHERE id = ?`,
			f.Title, f.Description, f.UpdatedAt, id); err != nil {
			return err
		}
		if p.Questions != nil || p.AssignedPatients != nil {
			if err := writeFormChildren(ctx, tx, f); err != nil {
				return err
			}
		}
		out = f
		return nil
	})
	return out, err
}

// DeleteForm removes children explicitly so the cascade does not depend
// on foreign key enforcement being enabled on the connection.
func (s *SQLStore) DeleteForm(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "forms", id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		for _, stmt := range []string{
			`DELETE FROM answers WHERE response_id IN (SELECT id FROM responses WHERE form_id = ?)`,
			`DELETE FROM responses WHERE form_id = ?`,
			`DELETE FROM questions WHERE form_id = ?`,
			`DELETE FROM form_assignments WHERE form_id = ?`,
			`DELETE FROM forms WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) UpsertForm(ctx context.Context, f *model.Form) error {
	cp := normalizeForm(f)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "forms", cp.ID)
		if err != nil {
			return err
		}
		if ok {
			_, err = tx.ExecContext(ctx,
				`UPDATE forms SET title = ?, description = ?, owner_id = ?, created_at = ?, updated_at = ? WHERE id = ?`,
				cp.Title, cp.Description, cp.OwnerID, cp.CreatedAt, cp.UpdatedAt, cp.ID)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO forms (id, title, description, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
				cp.ID, cp.Title, cp.Description, cp.OwnerID, cp.CreatedAt, cp.UpdatedAt)
		}
		if err != nil {
			return err
		}
		return writeFormChildren(ctx, tx, cp)
	})
}

// ---- responses ----

func loadResponse(ctx context.Context, q queryer, id string) (*model.Response, error) {
	r := model.Response{Answers: []model.Answer{}}
	err := q.QueryRowContext(ctx,
		`SELECT id, form_id, form_title, patient_id, submitted_at FROM responses WHERE id = ?`, id).
		Scan(&r.ID, &r.FormID, &r.FormTitle, &r.PatientID, &r.SubmittedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.SubmittedAt = normalizeTime(r.SubmittedAt)

	rows, err := q.QueryContext(ctx,
		`SELECT question_id, question_text, answer_text FROM answers WHERE response_id = ? ORDER BY pos`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.QuestionID, &a.QuestionText, &a.AnswerText); err != nil {
			return nil, err
		}
		r.Answers = append(r.Answers, a)
	}
	return &r, rows.Err()
}

func writeAnswers(ctx context.Context, tx *sql.Tx, r *model.Response) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE response_id = ?`, r.ID); err != nil {
		return err
	}
	if len(r.Answers) == 0 {
		return nil
	}
	query := `INSERT INTO answers (response_id, pos, question_id, question_text, answer_text) VALUES `
	args := make([]any, 0, len(r.Answers)*5)
	for i, a := range r.Answers {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, r.ID, i, a.QuestionID, a.QuestionText, a.AnswerText)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLStore) responseConflict(err error) error {
	switch {
	case s.d.isUnique(err):
		return ErrDuplicateResponse
	case s.d.isForeignKey(err):
		return ErrFormNotFound
	}
	return err
}

func (s *SQLStore) InsertResponse(ctx context.Context, r *model.Response) error {
	cp := normalizeResponse(r)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "responses", cp.ID)
		if err != nil {
			return err
		}
		if ok {
			return ErrDuplicateID
		}
		if ok, err = exists(ctx, tx, "forms", cp.FormID); err != nil {
			return err
		} else if !ok {
			return ErrFormNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO responses (id, form_id, form_title, patient_id, submitted_at) VALUES (?, ?, ?, ?, ?)`,
			cp.ID, cp.FormID, cp.FormTitle, cp.PatientID, cp.SubmittedAt); err != nil {
			return s.responseConflict(err)
		}
		return writeAnswers(ctx, tx, cp)
	})
}

func (s *SQLStore) GetResponse(ctx context.Context, id string) (*model.Response, error) {
	return loadResponse(ctx, s.db, id)
}

func (s *SQLStore) ListResponses(ctx context.Context, f ResponseFilter) ([]*model.Response, error) {
	var (
		conds []string
		args  []any
	)
	if f.FormID != "" {
		conds = append(conds, "form_id = ?")
		args = append(args, f.FormID)
	}
	if f.PatientID != "" {
		conds = append(conds, "patient_id = ?")
		args = append(args, f.PatientID)
	}
	ids, err := queryIDs(ctx, s.db, `SELECT id FROM responses`+whereClause(conds)+` ORDER BY submitted_at, id`, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Response, 0, len(ids))
	for _, id := range ids {
		r, err := loadResponse(ctx, s.db, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLStore) DeleteResponse(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE response_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM responses WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLStore) UpsertResponse(ctx context.Context, r *model.Response) error {
	cp := normalizeResponse(r)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "forms", cp.FormID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrFormNotFound
		}
		if ok, err = exists(ctx, tx, "responses", cp.ID); err != nil {
			return err
		}
		if ok {
			_, err = tx.ExecContext(ctx,
				`UPDATE responses SET form_id = ?, form_title = ?, patient_id = ?, submitted_at = ? WHERE id = ?`,
				cp.FormID, cp.FormTitle, cp.PatientID, cp.SubmittedAt, cp.ID)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO responses (id, form_id, form_title, patient_id, submitted_at) VALUES (?, ?, ?, ?, ?)`,
				cp.ID, cp.FormID, cp.FormTitle, cp.PatientID, cp.SubmittedAt)
		}
		if err != nil {
			return s.responseConflict(err)
		}
		return writeAnswers(ctx, tx, cp)
	})
}

func (s *SQLStore) CountResponsesForForm(ctx context.Context, formID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses WHERE form_id = ?`, formID).Scan(&n)
	return n, err
}

func (s *SQLStore) FindResponse(ctx context.Context, formID, patientID string) (*model.Response, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM responses WHERE form_id = ? AND patient_id = ?`, formID, patientID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return loadResponse(ctx, s.db, id)
}

// pingTimeout bounds health probes issued through Ping.
const pingTimeout = 2 * time.Second

// Ping checks that the underlying database answers.
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}
