package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/psych-forms/internal/model"
	"github.com/iliyamo/psych-forms/internal/queue"
	"github.com/iliyamo/psych-forms/internal/repository"
)

// AvailableForm is one entry of ListAvailableForms.
type AvailableForm struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	QuestionCount    int       `json:"questionCount"`
	PsychologistName string    `json:"psychologistName"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SubmitInput is the payload of SubmitResponse.
type SubmitInput struct {
	FormID  string         `json:"formId"`
	Answers []model.Answer `json:"answers"`
}

// ListAvailableForms returns the forms assigned to the principal that it
// has not answered yet.
func (e *Engine) ListAvailableForms(ctx context.Context, p model.Principal) ([]AvailableForm, error) {
	if err := requireRole(p, model.RolePatient, "only patients can view available forms"); err != nil {
		return nil, err
	}
	forms, err := e.store.ListForms(ctx, repository.FormFilter{AssignedTo: p.ID})
	if err != nil {
		return nil, internal(err)
	}
	mine, err := e.store.ListResponses(ctx, repository.ResponseFilter{PatientID: p.ID})
	if err != nil {
		return nil, internal(err)
	}
	answered := make(map[string]struct{}, len(mine))
	for _, r := range mine {
		answered[r.FormID] = struct{}{}
	}

	out := []AvailableForm{}
	for _, f := range forms {
		if _, done := answered[f.ID]; done {
			continue
		}
		name := unknown
		if u, err := e.store.GetUser(ctx, f.OwnerID); err == nil {
			name = u.Name
		}
		out = append(out, AvailableForm{
			ID: f.ID, Title: f.Title, Description: f.Description,
			QuestionCount: len(f.Questions), PsychologistName: name, CreatedAt: f.CreatedAt,
		})
	}
	return out, nil
}

// SubmitResponse records the principal's single response to an assigned
// form.  Each answer's question text is taken from the form when the
// question id is known, so the stored wording is what the patient saw.
// Uniqueness per (form, patient) is enforced by the store, so concurrent
// duplicates get the same conflict as sequential ones.
func (e *Engine) SubmitResponse(ctx context.Context, p model.Principal, in SubmitInput) (*model.Response, error) {
	if err := requireRole(p, model.RolePatient, "only patients can submit responses"); err != nil {
		return nil, err
	}
	f, err := e.loadForm(ctx, in.FormID)
	if err != nil {
		return nil, err
	}
	if !f.IsAssigned(p.ID) {
		return nil, fail(KindForbidden, "form is not assigned to you")
	}

	prompts := make(map[string]string, len(f.Questions))
	for _, q := range f.Questions {
		prompts[q.ID] = q.Text
	}
	answers := make([]model.Answer, 0, len(in.Answers))
	for _, a := range in.Answers {
		if text, ok := prompts[a.QuestionID]; ok {
			a.QuestionText = text
		}
		answers = append(answers, a)
	}

	r := &model.Response{
		ID:          e.newID(),
		FormID:      f.ID,
		FormTitle:   f.Title,
		PatientID:   p.ID,
		Answers:     answers,
		SubmittedAt: e.now(),
	}
	if err := e.store.InsertResponse(ctx, r); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateResponse):
			return nil, wrap(KindConflict, "response already submitted", err)
		case errors.Is(err, repository.ErrFormNotFound):
			return nil, fail(KindNotFound, "form not found")
		}
		return nil, internal(err)
	}
	stored, err := e.store.GetResponse(ctx, r.ID)
	if err != nil {
		return nil, internal(err)
	}
	e.emit(queue.AuditEvent{Type: queue.EventResponseSubmitted, ActorID: p.ID, FormID: f.ID, FormTitle: f.Title, PatientID: p.ID})
	return stored, nil
}

// ListMyResponses returns the principal's submission history.
func (e *Engine) ListMyResponses(ctx context.Context, p model.Principal) ([]*model.Response, error) {
	if err := requireRole(p, model.RolePatient, "only patients can view their responses"); err != nil {
		return nil, err
	}
	out, err := e.store.ListResponses(ctx, repository.ResponseFilter{PatientID: p.ID})
	if err != nil {
		return nil, internal(err)
	}
	return out, nil
}
