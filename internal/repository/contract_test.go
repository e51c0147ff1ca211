package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/psych-forms/internal/database"
	"github.com/iliyamo/psych-forms/internal/model"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 123456789, time.UTC)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := database.OpenSQLite(dsn)
	require.NoError(t, err)
	s, err := NewSQLStore(context.Background(), db, database.DriverSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

// backends returns one constructor per Store implementation.  Every test
// in this file runs against all of them.
func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file":   func(t *testing.T) Store { return newFileStore(t) },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t) },
		"mirrored": func(t *testing.T) Store {
			m := NewMirrored(NewMemoryStore(), MirroredOptions{
				Mirrors: []Mirror{{Name: "file", Store: newFileStore(t)}, {Name: "sql", Store: newSQLiteStore(t)}},
				Reader:  "sql",
			})
			return m
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func user(id, username string, role model.Role, at time.Time) *model.User {
	return &model.User{
		ID: id, Username: username, PasswordHash: "hash-" + username,
		Name: "Name " + username, Email: username + "@example.com", Role: role, CreatedAt: at,
	}
}

func form(id, owner string, at time.Time, patients ...string) *model.Form {
	return &model.Form{
		ID: id, Title: "Form " + id, Description: "desc",
		Questions: []model.Question{
			{ID: "q2", Text: "How did you sleep?", Order: 2},
			{ID: "q1", Text: "How do you feel?", Order: 1},
		},
		OwnerID: owner, AssignedPatients: patients, CreatedAt: at, UpdatedAt: at,
	}
}

func response(id, formID, patient string, at time.Time) *model.Response {
	return &model.Response{
		ID: id, FormID: formID, FormTitle: "Form " + formID, PatientID: patient,
		Answers:     []model.Answer{{QuestionID: "q1", QuestionText: "How do you feel?", AnswerText: "fine"}},
		SubmittedAt: at,
	}
}

func TestStoreUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertUser(ctx, user("u2", "joao", model.RolePatient, t0.Add(time.Second))))
		require.NoError(t, s.InsertUser(ctx, user("u1", "dra", model.RolePsychologist, t0)))
		require.NoError(t, s.InsertUser(ctx, user("u3", "ana", model.RolePatient, t0.Add(2*time.Second))))

		got, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "dra", got.Username)
		assert.Equal(t, model.RolePsychologist, got.Role)
		assert.Equal(t, t0.Truncate(time.Microsecond), got.CreatedAt)

		byName, err := s.GetUserByUsername(ctx, "joao")
		require.NoError(t, err)
		assert.Equal(t, "u2", byName.ID)

		err = s.InsertUser(ctx, user("u9", "joao", model.RolePatient, t0))
		assert.ErrorIs(t, err, ErrUsernameTaken)
		assert.ErrorIs(t, err, ErrConflict)
		assert.ErrorIs(t, s.InsertUser(ctx, user("u1", "other", model.RolePatient, t0)), ErrDuplicateID)

		patients, err := s.ListUsers(ctx, UserFilter{Role: model.RolePatient})
		require.NoError(t, err)
		require.Len(t, patients, 2)
		assert.Equal(t, "u2", patients[0].ID)
		assert.Equal(t, "u3", patients[1].ID)

		all, err := s.ListUsers(ctx, UserFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "u1", all[0].ID)

		name := "Dra. Silva"
		upd, err := s.UpdateUser(ctx, "u1", UserPatch{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, name, upd.Name)
		assert.Equal(t, "dra@example.com", upd.Email)

		_, err = s.UpdateUser(ctx, "missing", UserPatch{Name: &name})
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.DeleteUser(ctx, "u3"))
		_, err = s.GetUser(ctx, "u3")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteUser(ctx, "u3"), ErrNotFound)
		_, err = s.GetUserByUsername(ctx, "ana")
		assert.ErrorIs(t, err, ErrNotFound)

		// the username is free again
		require.NoError(t, s.InsertUser(ctx, user("u4", "ana", model.RolePatient, t0)))
	})
}

func TestStoreForms(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertForm(ctx, form("f1", "psy", t0, "p1", "p2", "p1", "")))
		require.NoError(t, s.InsertForm(ctx, form("f2", "psy", t0.Add(time.Second), "p2")))
		require.NoError(t, s.InsertForm(ctx, form("f3", "other", t0.Add(2*time.Second))))
		assert.ErrorIs(t, s.InsertForm(ctx, form("f1", "psy", t0)), ErrDuplicateID)

		f, err := s.GetForm(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, f.AssignedPatients)
		require.Len(t, f.Questions, 2)
		assert.Equal(t, "q1", f.Questions[0].ID)
		assert.Equal(t, "q2", f.Questions[1].ID)
		assert.Equal(t, "psy", f.OwnerID)

		// returned values are copies
		f.Questions[0].Text = "mutated"
		f.AssignedPatients[0] = "mutated"
		again, err := s.GetForm(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, "How do you feel?", again.Questions[0].Text)
		assert.Equal(t, "p1", again.AssignedPatients[0])

		own, err := s.ListForms(ctx, FormFilter{OwnerID: "psy"})
		require.NoError(t, err)
		require.Len(t, own, 2)
		assert.Equal(t, "f1", own[0].ID)
		assert.Equal(t, "f2", own[1].ID)

		assigned, err := s.ListForms(ctx, FormFilter{AssignedTo: "p1"})
		require.NoError(t, err)
		require.Len(t, assigned, 1)
		assert.Equal(t, "f1", assigned[0].ID)

		none, err := s.ListForms(ctx, FormFilter{OwnerID: "nobody"})
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)

		title := "Renamed"
		patients := []string{"p2", "p3"}
		later := t0.Add(time.Hour)
		upd, err := s.UpdateForm(ctx, "f1", FormPatch{Title: &title, AssignedPatients: &patients, UpdatedAt: later})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", upd.Title)
		assert.Equal(t, "desc", upd.Description)
		assert.Equal(t, []string{"p2", "p3"}, upd.AssignedPatients)
		assert.Len(t, upd.Questions, 2)
		assert.Equal(t, later.Truncate(time.Microsecond), upd.UpdatedAt)
		assert.Equal(t, t0.Truncate(time.Microsecond), upd.CreatedAt)

		got, err := s.GetForm(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, upd, got)

		_, err = s.UpdateForm(ctx, "missing", FormPatch{Title: &title, UpdatedAt: later})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetForm(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteForm(ctx, "missing"), ErrNotFound)
	})
}

func TestStoreResponses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertForm(ctx, form("f1", "psy", t0, "p1", "p2")))
		require.NoError(t, s.InsertForm(ctx, form("f2", "psy", t0, "p1")))

		require.NoError(t, s.InsertResponse(ctx, response("r2", "f1", "p2", t0.Add(2*time.Second))))
		require.NoError(t, s.InsertResponse(ctx, response("r1", "f1", "p1", t0.Add(time.Second))))
		require.NoError(t, s.InsertResponse(ctx, response("r3", "f2", "p1", t0.Add(3*time.Second))))

		err := s.InsertResponse(ctx, response("r4", "f1", "p1", t0))
		assert.ErrorIs(t, err, ErrDuplicateResponse)
		assert.ErrorIs(t, err, ErrConflict)
		assert.ErrorIs(t, s.InsertResponse(ctx, response("r5", "nope", "p1", t0)), ErrFormNotFound)
		assert.ErrorIs(t, s.InsertResponse(ctx, response("r5", "nope", "p1", t0)), ErrNotFound)
		assert.ErrorIs(t, s.InsertResponse(ctx, response("r1", "f2", "p2", t0)), ErrDuplicateID)

		r, err := s.GetResponse(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, response("r1", "f1", "p1", t0.Add(time.Second).Truncate(time.Microsecond)), r)

		n, err := s.CountResponsesForForm(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		found, err := s.FindResponse(ctx, "f2", "p1")
		require.NoError(t, err)
		assert.Equal(t, "r3", found.ID)
		_, err = s.FindResponse(ctx, "f2", "p2")
		assert.ErrorIs(t, err, ErrNotFound)

		mine, err := s.ListResponses(ctx, ResponseFilter{PatientID: "p1"})
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, "r1", mine[0].ID)
		assert.Equal(t, "r3", mine[1].ID)

		byForm, err := s.ListResponses(ctx, ResponseFilter{FormID: "f1"})
		require.NoError(t, err)
		require.Len(t, byForm, 2)
		assert.Equal(t, "r1", byForm[0].ID)
		assert.Equal(t, "r2", byForm[1].ID)

		require.NoError(t, s.DeleteResponse(ctx, "r3"))
		assert.ErrorIs(t, s.DeleteResponse(ctx, "r3"), ErrNotFound)
		// the pair is free again
		require.NoError(t, s.InsertResponse(ctx, response("r6", "f2", "p1", t0)))
	})
}

func TestStoreDeleteFormCascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertForm(ctx, form("f1", "psy", t0, "p1")))
		require.NoError(t, s.InsertForm(ctx, form("f2", "psy", t0, "p1")))
		require.NoError(t, s.InsertResponse(ctx, response("r1", "f1", "p1", t0)))
		require.NoError(t, s.InsertResponse(ctx, response("r2", "f2", "p1", t0)))

		require.NoError(t, s.DeleteForm(ctx, "f1"))

		_, err := s.GetForm(ctx, "f1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetResponse(ctx, "r1")
		assert.ErrorIs(t, err, ErrNotFound)
		n, err := s.CountResponsesForForm(ctx, "f1")
		require.NoError(t, err)
		assert.Zero(t, n)

		left, err := s.ListResponses(ctx, ResponseFilter{PatientID: "p1"})
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "r2", left[0].ID)
	})
}

func TestStoreUpsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := user("u1", "dra", model.RolePsychologist, t0)
		require.NoError(t, s.UpsertUser(ctx, u))
		u.Email = "new@example.com"
		require.NoError(t, s.UpsertUser(ctx, u))
		users, err := s.ListUsers(ctx, UserFilter{})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "new@example.com", users[0].Email)

		assert.ErrorIs(t, s.UpsertUser(ctx, user("u2", "dra", model.RolePatient, t0)), ErrUsernameTaken)

		f := form("f1", "u1", t0, "p1")
		require.NoError(t, s.UpsertForm(ctx, f))
		f.Questions = f.Questions[:1]
		f.AssignedPatients = []string{"p2"}
		require.NoError(t, s.UpsertForm(ctx, f))
		got, err := s.GetForm(ctx, "f1")
		require.NoError(t, err)
		assert.Len(t, got.Questions, 1)
		assert.Equal(t, []string{"p2"}, got.AssignedPatients)

		r := response("r1", "f1", "p2", t0)
		require.NoError(t, s.UpsertResponse(ctx, r))
		require.NoError(t, s.UpsertResponse(ctx, r))
		n, err := s.CountResponsesForForm(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		assert.ErrorIs(t, s.UpsertResponse(ctx, response("r2", "f1", "p2", t0)), ErrDuplicateResponse)
		assert.ErrorIs(t, s.UpsertResponse(ctx, response("r3", "nope", "p2", t0)), ErrFormNotFound)
	})
}

func TestStoreEmptyListsAreNotNil(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		users, err := s.ListUsers(ctx, UserFilter{})
		require.NoError(t, err)
		assert.NotNil(t, users)
		forms, err := s.ListForms(ctx, FormFilter{})
		require.NoError(t, err)
		assert.NotNil(t, forms)
		responses, err := s.ListResponses(ctx, ResponseFilter{})
		require.NoError(t, err)
		assert.NotNil(t, responses)

		require.NoError(t, s.InsertForm(ctx, &model.Form{ID: "bare", Title: "t", OwnerID: "o", CreatedAt: t0, UpdatedAt: t0}))
		f, err := s.GetForm(ctx, "bare")
		require.NoError(t, err)
		assert.NotNil(t, f.Questions)
		assert.NotNil(t, f.AssignedPatients)
	})
}
