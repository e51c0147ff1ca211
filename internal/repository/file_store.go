package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iliyamo/psych-forms/internal/model"
)

// Document names inside the data directory.  Each holds a JSON object
// keyed by entity id.
const (
	usersFile     = "users.json"
	formsFile     = "forms.json"
	responsesFile = "responses.json"
)

// FileStore keeps entities in a MemoryStore and rewrites the full JSON
// documents after every mutating call.  The documents are read once, at
// open.
type FileStore struct {
	dir    string
	mem    *MemoryStore
	now    func() time.Time
	fileMu sync.Mutex // serializes rewrites
}

var _ Store = (*FileStore)(nil)

type fileUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	CreatedAt    string `json:"createdAt"`
}

type fileForm struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Questions        []model.Question `json:"questions"`
	OwnerID          string           `json:"createdBy"`
	AssignedPatients []string         `json:"assignedPatients"`
	CreatedAt        string           `json:"createdAt"`
	UpdatedAt        string           `json:"updatedAt"`
}

type fileResponse struct {
	ID          string         `json:"id"`
	FormID      string         `json:"formId"`
	FormTitle   string         `json:"formTitle"`
	PatientID   string         `json:"patientId"`
	Answers     []model.Answer `json:"answers"`
	SubmittedAt string         `json:"submittedAt"`
}

// OpenFileStore creates dir if needed and loads any existing documents.
// An unreadable directory or a corrupt document is returned as an error;
// callers treat it as fatal.
func OpenFileStore(dir string) (*FileStore, error) {
	return openFileStore(dir, func() time.Time { return time.Now().UTC() })
}

func openFileStore(dir string, now func() time.Time) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if _, err := os.ReadDir(dir); err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	s := &FileStore{dir: dir, mem: NewMemoryStore(), now: now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Close() error { return nil }

// parseTime accepts RFC 3339 timestamps; anything else becomes "now".
func (s *FileStore) parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return s.now()
	}
	return t
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func readDoc[T any](path string) (map[string]T, error) {
	out := map[string]T{}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func (s *FileStore) load() error {
	ctx := context.Background()
	users, err := readDoc[fileUser](filepath.Join(s.dir, usersFile))
	if err != nil {
		return err
	}
	forms, err := readDoc[fileForm](filepath.Join(s.dir, formsFile))
	if err != nil {
		return err
	}
	responses, err := readDoc[fileResponse](filepath.Join(s.dir, responsesFile))
	if err != nil {
		return err
	}
	for id, u := range users {
		role, rerr := model.ParseRole(u.Role)
		if rerr != nil {
			return fmt.Errorf("user %s: %w", id, rerr)
		}
		if err := s.mem.UpsertUser(ctx, &model.User{
			ID: id, Username: u.Username, PasswordHash: u.PasswordHash,
			Name: u.Name, Email: u.Email, Role: role, CreatedAt: s.parseTime(u.CreatedAt),
		}); err != nil {
			return fmt.Errorf("load user %s: %w", id, err)
		}
	}
	for id, f := range forms {
		if err := s.mem.UpsertForm(ctx, &model.Form{
			ID: id, Title: f.Title, Description: f.Description, Questions: f.Questions,
			OwnerID: f.OwnerID, AssignedPatients: f.AssignedPatients,
			CreatedAt: s.parseTime(f.CreatedAt), UpdatedAt: s.parseTime(f.UpdatedAt),
		}); err != nil {
			return fmt.Errorf("load form %s: %w", id, err)
		}
	}
	for id, r := range responses {
		if err := s.mem.UpsertResponse(ctx, &model.Response{
			ID: id, FormID: r.FormID, FormTitle: r.FormTitle, PatientID: r.PatientID,
			Answers: r.Answers, SubmittedAt: s.parseTime(r.SubmittedAt),
		}); err != nil {
			return fmt.Errorf("load response %s: %w", id, err)
		}
	}
	return nil
}

// persist snapshots the in-memory maps and rewrites all three documents.
func (s *FileStore) persist(ctx context.Context) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	users, _ := s.mem.ListUsers(ctx, UserFilter{})
	forms, _ := s.mem.ListForms(ctx, FormFilter{})
	responses, _ := s.mem.ListResponses(ctx, ResponseFilter{})

	ud := make(map[string]fileUser, len(users))
	for _, u := range users {
		ud[u.ID] = fileUser{ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash,
			Name: u.Name, Email: u.Email, Role: string(u.Role), CreatedAt: formatTime(u.CreatedAt)}
	}
	fd := make(map[string]fileForm, len(forms))
	for _, f := range forms {
		fd[f.ID] = fileForm{ID: f.ID, Title: f.Title, Description: f.Description, Questions: f.Questions,
			OwnerID: f.OwnerID, AssignedPatients: f.AssignedPatients,
			CreatedAt: formatTime(f.CreatedAt), UpdatedAt: formatTime(f.UpdatedAt)}
	}
	rd := make(map[string]fileResponse, len(responses))
	for _, r := range responses {
		rd[r.ID] = fileResponse{ID: r.ID, FormID: r.FormID, FormTitle: r.FormTitle, PatientID: r.PatientID,
			Answers: r.Answers, SubmittedAt: formatTime(r.SubmittedAt)}
	}

	for name, doc := range map[string]any{usersFile: ud, formsFile: fd, responsesFile: rd} {
		if err := writeDoc(filepath.Join(s.dir, name), doc); err != nil {
			return fmt.Errorf("%w: %v", ErrPersist, err)
		}
	}
	return nil
}

// writeDoc replaces path atomically through a temp file in the same dir.
func writeDoc(path string, doc any) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// mutate runs op against the memory map and, when it succeeds, rewrites
// the documents.
func (s *FileStore) mutate(ctx context.Context, op func() error) error {
	if err := op(); err != nil {
		return err
	}
	return s.persist(ctx)
}

// ---- users ----

func (s *FileStore) InsertUser(ctx context.Context, u *model.User) error {
	return s.mutate(ctx, func() error { return s.mem.InsertUser(ctx, u) })
}

func (s *FileStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.mem.GetUser(ctx, id)
}

func (s *FileStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.mem.GetUserByUsername(ctx, username)
}

func (s *FileStore) ListUsers(ctx context.Context, f UserFilter) ([]*model.User, error) {
	return s.mem.ListUsers(ctx, f)
}

func (s *FileStore) UpdateUser(ctx context.Context, id string, p UserPatch) (*model.User, error) {
	var out *model.User
	err := s.mutate(ctx, func() (err error) {
		out, err = s.mem.UpdateUser(ctx, id, p)
		return err
	})
	return out, err
}

func (s *FileStore) DeleteUser(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error { return s.mem.DeleteUser(ctx, id) })
}

func (s *FileStore) UpsertUser(ctx context.Context, u *model.User) error {
	return s.mutate(ctx, func() error { return s.mem.UpsertUser(ctx, u) })
}

// ---- forms ----

func (s *FileStore) InsertForm(ctx context.Context, f *model.Form) error {
	return s.mutate(ctx, func() error { return s.mem.InsertForm(ctx, f) })
}

func (s *FileStore) GetForm(ctx context.Context, id string) (*model.Form, error) {
	return s.mem.GetForm(ctx, id)
}

func (s *FileStore) ListForms(ctx context.Context, f FormFilter) ([]*model.Form, error) {
	return s.mem.ListForms(ctx, f)
}

func (s *FileStore) UpdateForm(ctx context.Context, id string, p FormPatch) (*model.Form, error) {
	var out *model.Form
	err := s.mutate(ctx, func() (err error) {
		out, err = s.mem.UpdateForm(ctx, id, p)
		return err
	})
	return out, err
}

func (s *FileStore) DeleteForm(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error { return s.mem.DeleteForm(ctx, id) })
}

func (s *FileStore) UpsertForm(ctx context.Context, f *model.Form) error {
	return s.mutate(ctx, func() error { return s.mem.UpsertForm(ctx, f) })
}

// ---- responses ----

func (s *FileStore) InsertResponse(ctx context.Context, r *model.Response) error {
	return s.mutate(ctx, func() error { return s.mem.InsertResponse(ctx, r) })
}

func (s *FileStore) GetResponse(ctx context.Context, id string) (*model.Response, error) {
	return s.mem.GetResponse(ctx, id)
}

func (s *FileStore) ListResponses(ctx context.Context, f ResponseFilter) ([]*model.Response, error) {
	return s.mem.ListResponses(ctx, f)
}

func (s *FileStore) DeleteResponse(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error { return s.mem.DeleteResponse(ctx, id) })
}

func (s *FileStore) UpsertResponse(ctx context.Context, r *model.Response) error {
	return s.mutate(ctx, func() error { return s.mem.UpsertResponse(ctx, r) })
}

func (s *FileStore) CountResponsesForForm(ctx context.Context, formID string) (int, error) {
	return s.mem.CountResponsesForForm(ctx, formID)
}

func (s *FileStore) FindResponse(ctx context.Context, formID, patientID string) (*model.Response, error) {
	return s.mem.FindResponse(ctx, formID, patientID)
}
