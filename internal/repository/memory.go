package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/psych-forms/internal/model"
)

// responseKey identifies the (form, patient) pair a response is unique on.
type responseKey struct{ formID, patientID string }

// MemoryStore is the authoritative in-process backend.  Every check and
// write of a uniqueness constraint happens under one lock, so concurrent
// duplicate inserts cannot both succeed.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*model.User
	usernames    map[string]string // username -> user id
	forms        map[string]*model.Form
	responses    map[string]*model.Response
	responseKeys map[responseKey]string // (form, patient) -> response id
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        map[string]*model.User{},
		usernames:    map[string]string{},
		forms:        map[string]*model.Form{},
		responses:    map[string]*model.Response{},
		responseKeys: map[responseKey]string{},
	}
}

func (s *MemoryStore) Close() error { return nil }

// ---- users ----

func (s *MemoryStore) InsertUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return ErrDuplicateID
	}
	if _, ok := s.usernames[u.Username]; ok {
		return ErrUsernameTaken
	}
	cp := normalizeUser(u)
	s.users[cp.ID] = cp
	s.usernames[cp.Username] = cp.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) ListUsers(_ context.Context, f UserFilter) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.User{}
	for _, u := range s.users {
		if f.match(u) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, id string, p UserPatch) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.usernames, u.Username)
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.usernames[u.Username]; ok && owner != u.ID {
		return ErrUsernameTaken
	}
	if prev, ok := s.users[u.ID]; ok {
		delete(s.usernames, prev.Username)
	}
	cp := normalizeUser(u)
	s.users[cp.ID] = cp
	s.usernames[cp.Username] = cp.ID
	return nil
}

// ---- forms ----

func (s *MemoryStore) InsertForm(_ context.Context, f *model.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[f.ID]; ok {
		return ErrDuplicateID
	}
	s.forms[f.ID] = normalizeForm(f)
	return nil
}

func (s *MemoryStore) GetForm(_ context.Context, id string) (*model.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.forms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (s *MemoryStore) ListForms(_ context.Context, flt FormFilter) ([]*model.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Form{}
	for _, f := range s.forms {
		if flt.match(f) {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateForm(_ context.Context, id string, p FormPatch) (*model.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forms[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.apply(f)
	return f.Clone(), nil
}

func (s *MemoryStore) DeleteForm(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[id]; !ok {
		return ErrNotFound
	}
	delete(s.forms, id)
	for rid, r := range s.responses {
		if r.FormID == id {
			delete(s.responseKeys, responseKey{r.FormID, r.PatientID})
			delete(s.responses, rid)
		}
	}
	return nil
}

func (s *MemoryStore) UpsertForm(_ context.Context, f *model.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[f.ID] = normalizeForm(f)
	return nil
}

// ---- responses ----

func (s *MemoryStore) InsertResponse(_ context.Context, r *model.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.responses[r.ID]; ok {
		return ErrDuplicateID
	}
	if _, ok := s.forms[r.FormID]; !ok {
		return ErrFormNotFound
	}
	key := responseKey{r.FormID, r.PatientID}
	if _, ok := s.responseKeys[key]; ok {
		return ErrDuplicateResponse
	}
	s.responses[r.ID] = normalizeResponse(r)
	s.responseKeys[key] = r.ID
	return nil
}

func (s *MemoryStore) GetResponse(_ context.Context, id string) (*model.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListResponses(_ context.Context, f ResponseFilter) ([]*model.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Response{}
	for _, r := range s.responses {
		if f.match(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DeleteResponse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.responseKeys, responseKey{r.FormID, r.PatientID})
	delete(s.responses, id)
	return nil
}

func (s *MemoryStore) UpsertResponse(_ context.Context, r *model.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[r.FormID]; !ok {
		return ErrFormNotFound
	}
	key := responseKey{r.FormID, r.PatientID}
	if owner, ok := s.responseKeys[key]; ok && owner != r.ID {
		return ErrDuplicateResponse
	}
	if prev, ok := s.responses[r.ID]; ok {
		delete(s.responseKeys, responseKey{prev.FormID, prev.PatientID})
	}
	s.responses[r.ID] = normalizeResponse(r)
	s.responseKeys[key] = r.ID
	return nil
}

func (s *MemoryStore) CountResponsesForForm(_ context.Context, formID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.responses {
		if r.FormID == formID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindResponse(_ context.Context, formID, patientID string) (*model.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.responseKeys[responseKey{formID, patientID}]
	if !ok {
		return nil, ErrNotFound
	}
	return s.responses[id].Clone(), nil
}
