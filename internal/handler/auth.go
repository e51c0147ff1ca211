package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/psych-forms/internal/middleware"
	"github.com/iliyamo/psych-forms/internal/service"
)

// AuthHandler serves registration, login and the current user.  Register
// and Login are public; Me and ListPatients need a bearer token.
type AuthHandler struct {
	Engine *service.Engine // Engine hashes passwords and issues tokens
}

// NewAuthHandler constructs an AuthHandler around the engine.
func NewAuthHandler(e *service.Engine) *AuthHandler {
	return &AuthHandler{Engine: e}
}

// loginReq is the POST /auth/login body.
type loginReq struct {
	Username string `json:"username"` // account name, matched exactly
	Password string `json:"password"` // plaintext, compared against the bcrypt hash
}

// Register handles POST /auth/register.  It creates the account and
// returns a token right away, so the client is logged in after signing up.
func (h *AuthHandler) Register(c echo.Context) error {
	// Role spellings such as "paciente" are normalized by the engine.
	var req service.RegisterInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Engine.Register(ctx, req)
	if err != nil {
		return respondErr(c, err) // 409 on a taken username
	}
	return c.JSON(http.StatusOK, res)
}

// Login handles POST /auth/login.  Unknown usernames and wrong passwords
// both answer 401 with the same message.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Engine.Login(ctx, req.Username, req.Password)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Me handles GET /auth/me and returns the user JWTAuth resolved, without
// the password hash.
func (h *AuthHandler) Me(c echo.Context) error {
	// JWTAuth already loaded the user; no second lookup is needed.
	u, ok := middleware.UserFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	return c.JSON(http.StatusOK, u)
}

// ListPatients handles GET /patients: every patient account, for the
// assignment picker when authoring a form.
func (h *AuthHandler) ListPatients(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	users, err := h.Engine.ListPatients(ctx, p)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, users)
}
