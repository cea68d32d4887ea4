package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"uniattend/internal/apperr"
)

// CookieName is the HttpOnly cookie carrying the session token.
const CookieName = "jwt"

const principalKey = "principal"

// Principal is the authenticated caller, loaded fresh on every request so role
// changes take effect without re-login.
type Principal struct {
	ID              string `json:"id"`
	RegNo           string `json:"regNo"`
	Role            Role   `json:"role"`
	FirstName       string `json:"firstname"`
	Surname         string `json:"surname"`
	DeptID          string `json:"deptId,omitempty"`
	Level           string `json:"level,omitempty"`
	Option          string `json:"option,omitempty"`
	PasswordChanged bool   `json:"passwordChanged"`
}

// FullName is "firstname surname".
func (p Principal) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.Surname)
}

// PrincipalLoader resolves an account id from a token into a Principal.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, accountID string) (Principal, error)
}

// Middleware authenticates requests using the jwt cookie or a bearer header.
type Middleware struct {
	signingKey string
	issuer     string
	loader     PrincipalLoader
}

// NewMiddleware builds the authenticator.
func NewMiddleware(signingKey, issuer string, loader PrincipalLoader) *Middleware {
	return &Middleware{signingKey: signingKey, issuer: issuer, loader: loader}
}

// Protect rejects requests without a valid token.
func (m *Middleware) Protect() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := m.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperr.Unauthorized("Not authorized, token failed."))
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// Authenticate extracts and verifies the caller without touching the response.
func (m *Middleware) Authenticate(r *http.Request) (Principal, error) {
	tokenStr := tokenFromRequest(r)
	if tokenStr == "" {
		return Principal{}, errors.New("missing token")
	}
	claims, err := Parse(tokenStr, m.signingKey, m.issuer)
	if err != nil {
		return Principal{}, err
	}
	return m.loader.LoadPrincipal(r.Context(), claims.Subject)
}

func tokenFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	authz := r.Header.Get("Authorization")
	if authz != "" && strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

// Require aborts with 403 unless the principal's role holds capability. It must
// run after Protect.
func Require(capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperr.Unauthorized("Not authorized."))
			return
		}
		if !Can(p.Role, capability) {
			c.AbortWithStatusJSON(http.StatusForbidden, apperr.Forbidden("Forbidden: insufficient role."))
			return
		}
		c.Next()
	}
}

// FromContext returns the principal stored by Protect.
func FromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// SetCookie writes the token cookie.
func SetCookie(c *gin.Context, tok Token, secure bool) {
	maxAge := int(time.Until(tok.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(CookieName, tok.Value, maxAge, "/", "", secure, true)
}

// ClearCookie expires the token cookie.
func ClearCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(CookieName, "", -1, "/", "", secure, true)
}
