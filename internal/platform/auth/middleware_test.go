package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", RequireAuth(testSecret))
	g.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUserID(c)+":"+CurrentRole(c))
	})
	g.GET("/teachers-only", RequireRole(RoleTeacher, RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	r := newRouter()
	token, err := Sign(testSecret, "0012345678", RoleStudent, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if w := do(r, "/me", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", w.Code)
	}
	if w := do(r, "/me", "Token "+token); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong scheme, got %d", w.Code)
	}
	w := do(r, "/me", "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "0012345678:student" {
		t.Fatalf("unexpected identity %q", got)
	}
}

func TestRequireAuthRejectsExpiredAndForeignTokens(t *testing.T) {
	r := newRouter()
	expired, _ := Sign(testSecret, "t-1", RoleTeacher, time.Minute, time.Now().Add(-time.Hour))
	if w := do(r, "/me", "Bearer "+expired); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", w.Code)
	}
	foreign, _ := Sign([]byte("other"), "t-1", RoleTeacher, time.Hour, time.Now())
	if w := do(r, "/me", "Bearer "+foreign); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", w.Code)
	}
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "t-1", "role": RoleAdmin})
	noneStr, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if w := do(r, "/me", "Bearer "+noneStr); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for alg=none, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	r := newRouter()
	student, _ := Sign(testSecret, "s-1", RoleStudent, time.Hour, time.Now())
	teacher, _ := Sign(testSecret, "t-1", RoleTeacher, time.Hour, time.Now())
	if w := do(r, "/teachers-only", "Bearer "+student); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", w.Code)
	}
	if w := do(r, "/teachers-only", "Bearer "+teacher); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for teacher, got %d", w.Code)
	}
}
