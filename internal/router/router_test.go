package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/psych-forms/internal/repository"
	"github.com/iliyamo/psych-forms/internal/service"
)

type client struct {
	t *testing.T
	e *echo.Echo
}

func newClient(t *testing.T) *client {
	t.Helper()
	eng := service.NewEngine(repository.NewMemoryStore(), nil, nil, service.Config{
		JWTSecret:       "router-test-secret",
		BcryptCost:      bcrypt.MinCost,
		DuplicateWindow: time.Millisecond,
	}, zerolog.Nop())
	return &client{t: t, e: New(Deps{Engine: eng, Log: zerolog.Nop()})}
}

// do sends a JSON request and decodes the JSON reply into out when out is
// non-nil.
func (c *client) do(method, path, token string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.e.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type authReply struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	User      struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

func (c *client) register(username, role string) authReply {
	c.t.Helper()
	var out authReply
	code := c.do(http.MethodPost, "/api/auth/register", "", echo.Map{
		"username": username, "password": "pw-" + username, "name": "Name " + username,
		"email": username + "@example.com", "role": role,
	}, &out)
	require.Equal(c.t, http.StatusOK, code)
	return out
}

func TestHealth(t *testing.T) {
	c := newClient(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/readyz", "", nil, nil))
}

func TestAuthFlow(t *testing.T) {
	c := newClient(t)
	reg := c.register("dra", "psychologist")
	assert.Equal(t, "bearer", reg.TokenType)
	assert.Equal(t, "psychologist", reg.User.Role)

	var errBody map[string]string
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/api/auth/register", "",
		echo.Map{"username": "dra", "password": "x", "role": "patient"}, &errBody))
	assert.Equal(t, "username already exists", errBody["error"])

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/auth/register", "",
		echo.Map{"username": "x", "password": "x", "role": "admin"}, nil))

	var login authReply
	assert.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/auth/login", "",
		echo.Map{"username": "dra", "password": "pw-dra"}, &login))
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/api/auth/login", "",
		echo.Map{"username": "dra", "password": "wrong"}, nil))
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/api/auth/login", "",
		echo.Map{"username": "ghost", "password": "x"}, nil))

	var me map[string]any
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/auth/me", login.Token, nil, &me))
	assert.Equal(t, "dra", me["username"])
	assert.NotContains(t, me, "PasswordHash")

	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/auth/me", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/auth/me", login.Token+"x", nil, nil))
}

// The psychologist "dra" assigns a form to patient "joao", who answers it
// once; a second patient never sees it.
func TestPsychologistPatientScenario(t *testing.T) {
	c := newClient(t)
	dra := c.register("dra", "psicóloga")
	joao := c.register("joao", "paciente")
	ana := c.register("ana", "patient")

	var patients []map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/patients", dra.Token, nil, &patients))
	assert.Len(t, patients, 2)
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodGet, "/api/patients", joao.Token, nil, nil))

	var form struct {
		ID               string   `json:"id"`
		CreatedBy        string   `json:"createdBy"`
		AssignedPatients []string `json:"assignedPatients"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/forms", dra.Token, echo.Map{
		"title":       "Weekly check-in",
		"description": "Short mood questionnaire",
		"questions": []echo.Map{
			{"id": "q2", "text": "How did you sleep?", "order": 2},
			{"id": "q1", "text": "How are you feeling?", "order": 1},
		},
		"assignedPatients": []string{joao.User.ID, dra.User.ID, "not-a-user"},
	}, &form))
	assert.Equal(t, dra.User.ID, form.CreatedBy)
	assert.Equal(t, []string{joao.User.ID}, form.AssignedPatients)

	// Patients cannot author forms.
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/api/forms", joao.Token,
		echo.Map{"title": "x"}, nil))

	var summaries []map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/forms", dra.Token, nil, &summaries))
	require.Len(t, summaries, 1)
	assert.EqualValues(t, 2, summaries[0]["questionCount"])
	assert.EqualValues(t, 0, summaries[0]["responseCount"])

	// joao sees it, ana does not.
	var available []map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/patient/forms", joao.Token, nil, &available))
	require.Len(t, available, 1)
	assert.Equal(t, "Name dra", available[0]["psychologistName"])
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/patient/forms", ana.Token, nil, &available))
	assert.Empty(t, available)

	var view map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/forms/"+form.ID, joao.Token, nil, &view))
	assert.NotContains(t, view, "assignedPatients")
	qs := view["questions"].([]any)
	assert.Equal(t, "q1", qs[0].(map[string]any)["id"])
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodGet, "/api/forms/"+form.ID, ana.Token, nil, nil))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/forms/not-an-id", dra.Token, nil, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet,
		"/api/forms/00000000-0000-0000-0000-000000000000", dra.Token, nil, nil))

	submit := echo.Map{"formId": form.ID, "answers": []echo.Map{
		{"questionId": "q1", "answerText": "Fine"},
		{"questionId": "q2", "answerText": "Badly"},
	}}
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/api/responses", ana.Token, submit, nil))
	var submitted map[string]string
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/responses", joao.Token, submit, &submitted))
	assert.NotEmpty(t, submitted["id"])
	assert.Equal(t, "Response submitted successfully", submitted["message"])
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/api/responses", joao.Token, submit, nil))

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/patient/forms", joao.Token, nil, &available))
	assert.Empty(t, available)

	var mine []map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/responses/my", joao.Token, nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "Weekly check-in", mine[0]["formTitle"])

	var responses []map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/forms/"+form.ID+"/responses", dra.Token, nil, &responses))
	require.Len(t, responses, 1)
	assert.Equal(t, "Name joao", responses[0]["patientName"])
	answers := responses[0]["answers"].([]any)
	assert.Equal(t, "How are you feeling?", answers[0].(map[string]any)["questionText"])

	// Editing the question text leaves the stored answer untouched.
	var updated map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodPut, "/api/forms/"+form.ID, dra.Token, echo.Map{
		"questions": []echo.Map{{"id": "q1", "text": "Reworded", "order": 1}},
	}, &updated))
	assert.Equal(t, "Weekly check-in", updated["title"])
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/forms/"+form.ID+"/responses", dra.Token, nil, &responses))
	answers = responses[0]["answers"].([]any)
	assert.Equal(t, "How are you feeling?", answers[0].(map[string]any)["questionText"])

	// Another psychologist cannot touch dra's form.
	other := c.register("drb", "psychologist")
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodDelete, "/api/forms/"+form.ID, other.Token, nil, nil))

	var deleted map[string]string
	require.Equal(t, http.StatusOK, c.do(http.MethodDelete, "/api/forms/"+form.ID, dra.Token, nil, &deleted))
	assert.Equal(t, "Form deleted successfully", deleted["message"])
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/forms/"+form.ID, dra.Token, nil, nil))
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/responses/my", joao.Token, nil, &mine))
	assert.Empty(t, mine)
}

func TestUnknownAPIRouteIsNotFound(t *testing.T) {
	c := newClient(t)
	dra := c.register("dra", "psychologist")
	joao := c.register("joao", "patient")

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/nope", dra.Token, nil, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/nope", joao.Token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/nope", "", nil, nil))

	// role checks still apply per route
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodGet, "/api/responses/my", dra.Token, nil, nil))
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodGet, "/api/forms", joao.Token, nil, nil))
}
