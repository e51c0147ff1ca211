// Package service implements the authorization and assignment rules of
// the questionnaire platform.  Every operation takes the resolved
// principal and applies, in order: role gate, id validation, existence,
// ownership or assignment gate, domain invariants, the mutation itself and
// finally the audit side effect.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/psych-forms/internal/model"
	"github.com/iliyamo/psych-forms/internal/repository"
	"github.com/iliyamo/psych-forms/internal/utils"
)

// DefaultDuplicateWindow is how long an identical-title form by the same
// owner is rejected after a successful creation.
const DefaultDuplicateWindow = 5 * time.Second

// Config carries the Engine settings loaded from the environment.
type Config struct {
	JWTSecret       string
	TokenTTL        time.Duration
	BcryptCost      int
	DuplicateWindow time.Duration
}

// Engine is safe for concurrent use.
type Engine struct {
	store  repository.Store
	guard  repository.CreationGuard
	events EventPublisher
	cfg    Config
	log    zerolog.Logger

	now   func() time.Time
	newID func() string

	pending sync.WaitGroup
}

// NewEngine wires an Engine.  guard defaults to an in-process
// MemoryGuard; events may be nil to disable audit publishing.
func NewEngine(store repository.Store, guard repository.CreationGuard, events EventPublisher, cfg Config, log zerolog.Logger) *Engine {
	if guard == nil {
		guard = repository.NewMemoryGuard()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = utils.DefaultTokenTTL
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = DefaultDuplicateWindow
	}
	return &Engine{
		store:  store,
		guard:  guard,
		events: events,
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// ---- gates ----

func requireRole(p model.Principal, role model.Role, msg string) error {
	if p.Role != role {
		return fail(KindForbidden, msg)
	}
	return nil
}

// checkID rejects identifiers that are not uuids.  Every id this service
// hands out is one.
func checkID(id, what string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fail(KindValidation, "invalid "+what+" id")
	}
	return nil
}

// loadForm validates id and returns the form or a classified error.
func (e *Engine) loadForm(ctx context.Context, id string) (*model.Form, error) {
	if err := checkID(id, "form"); err != nil {
		return nil, err
	}
	f, err := e.store.GetForm(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fail(KindNotFound, "form not found")
	}
	if err != nil {
		return nil, internal(err)
	}
	return f, nil
}

// ownedForm loads a form and checks the principal owns it.
func (e *Engine) ownedForm(ctx context.Context, p model.Principal, id string) (*model.Form, error) {
	f, err := e.loadForm(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != p.ID {
		return nil, fail(KindForbidden, "not authorized")
	}
	return f, nil
}

// patientIDs keeps the ids that currently resolve to patient users,
// de-duplicated and in input order.
func (e *Engine) patientIDs(ctx context.Context, ids []string) ([]string, error) {
	out := []string{}
	for _, id := range model.UniqueIDs(ids) {
		u, err := e.store.GetUser(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, internal(err)
		}
		if u.IsPatient() {
			out = append(out, id)
		}
	}
	return out, nil
}

// validateQuestions requires a non-empty id unique within the form.
func validateQuestions(qs []model.Question) error {
	seen := make(map[string]struct{}, len(qs))
	for _, q := range qs {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return fail(KindValidation, "question id is required")
		}
		if _, dup := seen[id]; dup {
			return fail(KindValidation, "duplicate question id "+id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// diffIDs returns the ids of next missing from prev and of prev missing
// from next.
func diffIDs(prev, next []string) (added, removed []string) {
	in := func(list []string, id string) bool {
		for _, v := range list {
			if v == id {
				return true
			}
		}
		return false
	}
	for _, id := range next {
		if !in(prev, id) {
			added = append(added, id)
		}
	}
	for _, id := range prev {
		if !in(next, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}
