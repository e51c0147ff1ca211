package service

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/psych-forms/internal/model"
	"github.com/iliyamo/psych-forms/internal/queue"
	"github.com/iliyamo/psych-forms/internal/repository"
)

// FormInput is the payload of CreateForm.
type FormInput struct {
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Questions        []model.Question `json:"questions"`
	AssignedPatients []string         `json:"assignedPatients"`
}

// FormUpdate is a partial update; nil fields are left unchanged.
type FormUpdate struct {
	Title            *string           `json:"title"`
	Description      *string           `json:"description"`
	Questions        *[]model.Question `json:"questions"`
	AssignedPatients *[]string         `json:"assignedPatients"`
}

// FormSummary is one entry of ListOwnForms.
type FormSummary struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	QuestionCount    int       `json:"questionCount"`
	ResponseCount    int       `json:"responseCount"`
	AssignedPatients []string  `json:"assignedPatients"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// FormResponse is one entry of ListFormResponses, with the patient's
// contact details resolved at read time.
type FormResponse struct {
	ID           string         `json:"id"`
	PatientID    string         `json:"patientId"`
	PatientName  string         `json:"patientName"`
	PatientEmail string         `json:"patientEmail"`
	Answers      []model.Answer `json:"answers"`
	SubmittedAt  time.Time      `json:"submittedAt"`
}

// unknown stands in for details of a user that no longer exists.
const unknown = "Unknown"

// CreateForm stores a new form owned by the principal.  A second form with
// the exact same title by the same owner inside the duplicate window is
// rejected; the claim is atomic, so of two concurrent identical requests
// exactly one succeeds.
func (e *Engine) CreateForm(ctx context.Context, p model.Principal, in FormInput) (*model.Form, error) {
	if err := requireRole(p, model.RolePsychologist, "only psychologists can create forms"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fail(KindValidation, "title is required")
	}
	if err := validateQuestions(in.Questions); err != nil {
		return nil, err
	}
	assigned, err := e.patientIDs(ctx, in.AssignedPatients)
	if err != nil {
		return nil, err
	}

	key := repository.CreationKey(p.ID, in.Title)
	ok, err := e.guard.Claim(ctx, key, e.cfg.DuplicateWindow)
	if err != nil {
		return nil, internal(err)
	}
	if !ok {
		return nil, fail(KindConflict, "an identical form was just created")
	}

	now := e.now()
	f := &model.Form{
		ID:               e.newID(),
		Title:            in.Title,
		Description:      in.Description,
		Questions:        in.Questions,
		OwnerID:          p.ID,
		AssignedPatients: assigned,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.InsertForm(ctx, f); err != nil {
		// Nothing was created, so a retry must not be reported as a duplicate.
		e.releaseClaim(ctx, key)
		return nil, internal(err)
	}
	stored, err := e.store.GetForm(ctx, f.ID)
	if err != nil {
		return nil, internal(err)
	}
	e.emit(queue.AuditEvent{Type: queue.EventFormCreated, ActorID: p.ID, FormID: f.ID, FormTitle: f.Title, Added: assigned})
	return stored, nil
}

// releaseClaim frees a duplicate-window claim.  Failure only means the
// window runs out on its own, so it is logged and not returned.
func (e *Engine) releaseClaim(ctx context.Context, key string) {
	if err := e.guard.Release(ctx, key); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("release creation claim")
	}
}

// ListOwnForms returns the principal's forms with question and response
// counts.
func (e *Engine) ListOwnForms(ctx context.Context, p model.Principal) ([]FormSummary, error) {
	if err := requireRole(p, model.RolePsychologist, "only psychologists can view their forms"); err != nil {
		return nil, err
	}
	forms, err := e.store.ListForms(ctx, repository.FormFilter{OwnerID: p.ID})
	if err != nil {
		return nil, internal(err)
	}
	out := make([]FormSummary, 0, len(forms))
	for _, f := range forms {
		n, err := e.store.CountResponsesForForm(ctx, f.ID)
		if err != nil {
			return nil, internal(err)
		}
		out = append(out, FormSummary{
			ID: f.ID, Title: f.Title, Description: f.Description,
			QuestionCount: len(f.Questions), ResponseCount: n,
			AssignedPatients: f.AssignedPatients,
			CreatedAt:        f.CreatedAt, UpdatedAt: f.UpdatedAt,
		})
	}
	return out, nil
}

// GetForm returns a form to its owner or to an assigned patient.
func (e *Engine) GetForm(ctx context.Context, p model.Principal, id string) (*model.Form, error) {
	if !p.Role.Valid() {
		return nil, fail(KindForbidden, "not authorized")
	}
	f, err := e.loadForm(ctx, id)
	if err != nil {
		return nil, err
	}
	switch p.Role {
	case model.RolePsychologist:
		if f.OwnerID != p.ID {
			return nil, fail(KindForbidden, "not authorized")
		}
	case model.RolePatient:
		if !f.IsAssigned(p.ID) {
			return nil, fail(KindForbidden, "form is not assigned to you")
		}
	}
	return f, nil
}

// UpdateForm applies a partial update.  A new assignment list is filtered
// to ids that currently resolve to patients; patients dropped from it keep
// their existing responses.
func (e *Engine) UpdateForm(ctx context.Context, p model.Principal, id string, in FormUpdate) (*model.Form, error) {
	if err := requireRole(p, model.RolePsychologist, "only psychologists can update forms"); err != nil {
		return nil, err
	}
	prev, err := e.ownedForm(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, fail(KindValidation, "title cannot be empty")
	}
	if in.Questions != nil {
		if err := validateQuestions(*in.Questions); err != nil {
			return nil, err
		}
	}
	patch := repository.FormPatch{
		Title:       in.Title,
		Description: in.Description,
		Questions:   in.Questions,
		UpdatedAt:   e.now(),
	}
	if in.AssignedPatients != nil {
		assigned, err := e.patientIDs(ctx, *in.AssignedPatients)
		if err != nil {
			return nil, err
		}
		patch.AssignedPatients = &assigned
	}

	f, err := e.store.UpdateForm(ctx, id, patch)
	if err != nil {
		return nil, internal(err)
	}
	if added, removed := diffIDs(prev.AssignedPatients, f.AssignedPatients); len(added)+len(removed) > 0 {
		e.emit(queue.AuditEvent{
			Type: queue.EventAssignmentsChanged, ActorID: p.ID, FormID: f.ID, FormTitle: f.Title,
			Added: added, Removed: removed,
		})
	}
	return f, nil
}

// DeleteForm removes a form and every response submitted to it.
func (e *Engine) DeleteForm(ctx context.Context, p model.Principal, id string) error {
	if err := requireRole(p, model.RolePsychologist, "only psychologists can delete forms"); err != nil {
		return err
	}
	f, err := e.ownedForm(ctx, p, id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteForm(ctx, id); err != nil {
		return internal(err)
	}
	e.releaseClaim(ctx, repository.CreationKey(f.OwnerID, f.Title))
	e.emit(queue.AuditEvent{Type: queue.EventFormDeleted, ActorID: p.ID, FormID: f.ID, FormTitle: f.Title})
	return nil
}

// ListFormResponses returns every response to a form the principal owns.
func (e *Engine) ListFormResponses(ctx context.Context, p model.Principal, id string) ([]FormResponse, error) {
	if err := requireRole(p, model.RolePsychologist, "only psychologists can view responses"); err != nil {
		return nil, err
	}
	if _, err := e.ownedForm(ctx, p, id); err != nil {
		return nil, err
	}
	responses, err := e.store.ListResponses(ctx, repository.ResponseFilter{FormID: id})
	if err != nil {
		return nil, internal(err)
	}
	out := make([]FormResponse, 0, len(responses))
	for _, r := range responses {
		fr := FormResponse{
			ID: r.ID, PatientID: r.PatientID, PatientName: unknown, PatientEmail: unknown,
			Answers: r.Answers, SubmittedAt: r.SubmittedAt,
		}
		if u, err := e.store.GetUser(ctx, r.PatientID); err == nil {
			fr.PatientName, fr.PatientEmail = u.Name, u.Email
		}
		out = append(out, fr)
	}
	return out, nil
}
