package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/psych-forms/internal/model"
	"github.com/iliyamo/psych-forms/internal/repository"
	"github.com/iliyamo/psych-forms/internal/utils"
)

// RegisterInput is the payload of a registration.
type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

// Register creates an account and signs a token for it.  The role is
// parsed once here; unknown spellings are rejected.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || in.Password == "" {
		return nil, fail(KindValidation, "username and password are required")
	}
	role, err := model.ParseRole(in.Role)
	if err != nil {
		return nil, wrap(KindValidation, "role must be psychologist or patient", err)
	}

	hash, err := utils.HashPassword(in.Password, e.cfg.BcryptCost)
	if err != nil {
		return nil, internal(err)
	}
	u := &model.User{
		ID:           e.newID(),
		Username:     in.Username,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.TrimSpace(in.Email),
		Role:         role,
		CreatedAt:    e.now(),
	}
	if err := e.store.InsertUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, wrap(KindConflict, "username already exists", err)
		}
		return nil, internal(err)
	}
	e.log.Info().Str("user_id", u.ID).Str("role", string(role)).Msg("user registered")
	return e.issue(ctx, u.ID)
}

// Login checks credentials.  Unknown usernames and wrong passwords give
// the same error.
func (e *Engine) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	u, err := e.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fail(KindAuth, "invalid credentials")
	}
	if err != nil {
		return nil, internal(err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return nil, fail(KindAuth, "invalid credentials")
	}
	return e.issue(ctx, u.ID)
}

// issue re-reads the stored user so the response carries exactly what
// was persisted.
func (e *Engine) issue(ctx context.Context, userID string) (*AuthResult, error) {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, internal(err)
	}
	tok, err := utils.NewAccessToken(e.cfg.JWTSecret, u.ID, u.Role, e.cfg.TokenTTL)
	if err != nil {
		return nil, internal(err)
	}
	return &AuthResult{Token: tok.Token, TokenType: "bearer", ExpiresAt: tok.Exp, User: u}, nil
}

// Authenticate resolves a bearer token to the stored user.  The role is
// taken from the stored record, not from the token.
func (e *Engine) Authenticate(ctx context.Context, raw string) (*model.User, error) {
	p, err := utils.ParseAccessToken(e.cfg.JWTSecret, raw)
	switch {
	case errors.Is(err, utils.ErrExpiredToken):
		return nil, wrap(KindAuth, "token expired", err)
	case err != nil:
		return nil, wrap(KindAuth, "invalid token", err)
	}
	u, err := e.store.GetUser(ctx, p.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, wrap(KindAuth, "user not found", ErrUnknownPrincipal)
	}
	if err != nil {
		return nil, internal(err)
	}
	return u, nil
}

// ListPatients returns every patient user.  Psychologists only.
func (e *Engine) ListPatients(ctx context.Context, p model.Principal) ([]*model.User, error) {
	if err := requireRole(p, model.RolePsychologist, "only psychologists can list patients"); err != nil {
		return nil, err
	}
	users, err := e.store.ListUsers(ctx, repository.UserFilter{Role: model.RolePatient})
	if err != nil {
		return nil, internal(err)
	}
	return users, nil
}
