package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexora-chat/internal/model"
	"nexora-chat/internal/pkg/jwtutil"
)

const secret = "middleware-secret"

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", append(handlers, func(c *gin.Context) {
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "email": c.GetString(ContextEmailKey), "role": c.GetString(ContextRoleKey)})
	})...)
	return r
}

func get(r http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthJWT(t *testing.T) {
	r := newEngine(AuthJWT(secret))

	token, err := jwtutil.GenerateToken(secret, time.Minute, 7, "ada@example.com", "user")
	require.NoError(t, err)

	rec := get(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":7,"email":"ada@example.com","role":"user"}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer not-a-token").Code)

	other, err := jwtutil.GenerateToken("other-secret", time.Minute, 7, "ada@example.com", "user")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer "+other).Code)
}

type userDirectory map[uint]*model.User

func (d userDirectory) GetUserByID(id uint) (*model.User, error) {
	if id == 99 {
		return nil, errors.New("db down")
	}
	return d[id], nil
}

func TestRequireRole(t *testing.T) {
	users := userDirectory{
		1: {ID: 1, Email: "u@example.com", Role: model.RoleUser},
		2: {ID: 2, Email: "a@example.com", Role: model.RoleAdmin},
	}
	r := newEngine(AuthJWT(secret), RequireRole(users, model.RoleAdmin))

	token := func(id uint, role string) string {
		tok, err := jwtutil.GenerateToken(secret, time.Minute, id, "x@example.com", role)
		require.NoError(t, err)
		return "Bearer " + tok
	}

	assert.Equal(t, http.StatusForbidden, get(r, token(1, model.RoleUser)).Code)
	assert.Equal(t, http.StatusOK, get(r, token(2, model.RoleAdmin)).Code)

	// The stored role wins over the claim.
	assert.Equal(t, http.StatusForbidden, get(r, token(1, model.RoleAdmin)).Code)
	users[2].Role = model.RoleUser
	assert.Equal(t, http.StatusForbidden, get(r, token(2, model.RoleAdmin)).Code)

	assert.Equal(t, http.StatusUnauthorized, get(r, token(3, model.RoleAdmin)).Code)
	assert.Equal(t, http.StatusInternalServerError, get(r, token(99, model.RoleAdmin)).Code)
}
