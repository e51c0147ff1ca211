package repository

import (
	"context"
	"time"

	"github.com/iliyamo/psych-forms/internal/model"
)

// Store is the entity CRUD contract implemented by every backend.  Given
// the same sequence of calls, all implementations must produce the same
// observable results: same records, same ordering, same sentinel errors.
//
// Lists are ordered by creation time (users, forms) or submission time
// (responses), ties broken by id.  Returned records are copies; mutating
// them never changes stored state.
type Store interface {
	InsertUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]*model.User, error)
	UpdateUser(ctx context.Context, id string, p UserPatch) (*model.User, error)
	DeleteUser(ctx context.Context, id string) error
	UpsertUser(ctx context.Context, u *model.User) error

	InsertForm(ctx context.Context, f *model.Form) error
	GetForm(ctx context.Context, id string) (*model.Form, error)
	ListForms(ctx context.Context, f FormFilter) ([]*model.Form, error)
	UpdateForm(ctx context.Context, id string, p FormPatch) (*model.Form, error)
	// DeleteForm removes the form together with its questions,
	// assignments and every response submitted to it.
	DeleteForm(ctx context.Context, id string) error
	UpsertForm(ctx context.Context, f *model.Form) error

	// InsertResponse enforces at most one response per (form, patient)
	// atomically and fails with ErrDuplicateResponse otherwise.
	InsertResponse(ctx context.Context, r *model.Response) error
	GetResponse(ctx context.Context, id string) (*model.Response, error)
	ListResponses(ctx context.Context, f ResponseFilter) ([]*model.Response, error)
	DeleteResponse(ctx context.Context, id string) error
	UpsertResponse(ctx context.Context, r *model.Response) error

	CountResponsesForForm(ctx context.Context, formID string) (int, error)
	// FindResponse returns the response for (formID, patientID) or
	// ErrNotFound.
	FindResponse(ctx context.Context, formID, patientID string) (*model.Response, error)

	Close() error
}

// UserFilter selects users; zero fields match everything.
type UserFilter struct {
	Role     model.Role
	Username string
}

func (f UserFilter) match(u *model.User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.Username != "" && u.Username != f.Username {
		return false
	}
	return true
}

// FormFilter selects forms; zero fields match everything.
type FormFilter struct {
	OwnerID    string
	AssignedTo string
}

func (f FormFilter) match(fm *model.Form) bool {
	if f.OwnerID != "" && fm.OwnerID != f.OwnerID {
		return false
	}
	if f.AssignedTo != "" && !fm.IsAssigned(f.AssignedTo) {
		return false
	}
	return true
}

// ResponseFilter selects responses; zero fields match everything.
type ResponseFilter struct {
	FormID    string
	PatientID string
}

func (f ResponseFilter) match(r *model.Response) bool {
	if f.FormID != "" && r.FormID != f.FormID {
		return false
	}
	if f.PatientID != "" && r.PatientID != f.PatientID {
		return false
	}
	return true
}

// UserPatch carries the mutable user fields; nil means unchanged.
type UserPatch struct {
	Name  *string
	Email *string
}

// FormPatch carries a partial form update; nil means unchanged.
// UpdatedAt is always applied.
type FormPatch struct {
	Title            *string
	Description      *string
	Questions        *[]model.Question
	AssignedPatients *[]string
	UpdatedAt        time.Time
}

func (p FormPatch) apply(f *model.Form) {
	if p.Title != nil {
		f.Title = *p.Title
	}
	if p.Description != nil {
		f.Description = *p.Description
	}
	if p.Questions != nil {
		f.Questions = model.SortQuestions(*p.Questions)
	}
	if p.AssignedPatients != nil {
		f.AssignedPatients = model.UniqueIDs(*p.AssignedPatients)
	}
	f.UpdatedAt = normalizeTime(p.UpdatedAt)
}

// normalizeTime truncates to microseconds in UTC, the finest precision
// every backend round-trips.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// normalizeForm returns a stored-shape copy of f.
func normalizeForm(f *model.Form) *model.Form {
	cp := f.Clone()
	cp.Questions = model.SortQuestions(cp.Questions)
	cp.AssignedPatients = model.UniqueIDs(cp.AssignedPatients)
	cp.CreatedAt = normalizeTime(cp.CreatedAt)
	cp.UpdatedAt = normalizeTime(cp.UpdatedAt)
	return cp
}

func normalizeUser(u *model.User) *model.User {
	cp := *u
	cp.CreatedAt = normalizeTime(cp.CreatedAt)
	return &cp
}

func normalizeResponse(r *model.Response) *model.Response {
	cp := r.Clone()
	cp.SubmittedAt = normalizeTime(cp.SubmittedAt)
	return cp
}
