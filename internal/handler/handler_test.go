package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/sakif/sandbox-server/internal/auth"
	"github.com/sakif/sandbox-server/internal/handler"
	"github.com/sakif/sandbox-server/internal/metrics"
	"github.com/sakif/sandbox-server/internal/middleware"
	"github.com/sakif/sandbox-server/internal/repository/sqlite"
	"github.com/sakif/sandbox-server/internal/service"
)

var testCookies = auth.CookieConfig{Name: "sid", Path: "/"}

type api struct {
	db      *sqlite.DB
	auth    *service.AuthService
	handler http.Handler
}

// envelope mirrors handler.Response with Data left raw for per-test decoding.
type envelope struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []handler.ErrorEntry       `json:"errors"`
}

func newAPI(t *testing.T, limiter *middleware.RateLimiter) *api {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	passwords, err := auth.NewPasswordService(bcrypt.MinCost)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())

	authService := service.NewAuthService(db, passwords, service.NewLogNotifier(logger, "http://localhost/reset"), m,
		service.AuthConfig{SessionTTL: 0, ResetTokenTTL: 0}, logger)

	ops := handler.Registry{}
	ops.Register(handler.NewMemberResolvers(authService, testCookies).Operations())
	ops.Register(handler.NewProjectResolvers(service.NewProjectService(db, logger)).Operations())
	ops.Register(handler.NewFollowResolvers(service.NewFollowService(db.Follows(), logger)).Operations())

	dispatcher := handler.NewDispatcher(ops, limiter, m, logger)
	return &api{
		db:      db,
		auth:    authService,
		handler: auth.Gate(authService, testCookies, logger)(dispatcher),
	}
}

func (a *api) call(t *testing.T, operation string, vars any, cookie *http.Cookie) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"operationName": operation, "variables": vars})
	require.NoError(t, err)
	return a.raw(t, body, cookie)
}

func (a *api) raw(t *testing.T, body []byte, cookie *http.Cookie) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:5555"
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == testCookies.Name {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func errorCode(env envelope) string {
	if len(env.Errors) == 0 {
		return ""
	}
	return env.Errors[0].Extensions.Code
}

// signUpAndIn registers username and returns a live session cookie.
func (a *api) signUpAndIn(t *testing.T, username string) *http.Cookie {
	t.Helper()
	email := username + "@example.com"
	rr, env := a.call(t, "signUp", map[string]string{
		"username": username, "email": email, "password": "pw1", "confirmedPassword": "pw1",
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)

	rr, env = a.call(t, "signIn", map[string]string{"email": email, "password": "pw1"}, nil)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)
	return sessionCookie(t, rr)
}

func TestSignUp(t *testing.T) {
	a := newAPI(t, nil)

	rr, env := a.call(t, "signUp", map[string]string{
		"username": "alice", "email": "a@x.com", "password": "pw1", "confirmedPassword": "pw1",
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var member map[string]any
	require.NoError(t, json.Unmarshal(env.Data["signUp"], &member))
	assert.Equal(t, "alice", member["username"])
	assert.Equal(t, "a@x.com", member["email"])
	assert.NotContains(t, member, "passwordHash")
	assert.NotContains(t, rr.Body.String(), "$2a$", "the hash must never be serialized")

	rr, env = a.call(t, "signUp", map[string]string{
		"username": "bob", "email": "a@x.com", "password": "pw2", "confirmedPassword": "pw2",
	}, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "EMAIL_ALREADY_REGISTERED", errorCode(env))
	assert.Equal(t, "email", env.Errors[0].Extensions.Field)
}

func TestSignIn_SetsCookieAndProfileUsesIt(t *testing.T) {
	a := newAPI(t, nil)
	cookie := a.signUpAndIn(t, "alice")

	assert.True(t, cookie.HttpOnly)
	assert.Len(t, cookie.Value, 2*auth.TokenBytes)

	rr, env := a.call(t, "profile", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	var member map[string]any
	require.NoError(t, json.Unmarshal(env.Data["profile"], &member))
	assert.Equal(t, "alice", member["username"])
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	a := newAPI(t, nil)
	a.signUpAndIn(t, "alice")

	rrWrong, wrong := a.call(t, "signIn", map[string]string{"email": "alice@example.com", "password": "nope"}, nil)
	rrUnknown, unknown := a.call(t, "signIn", map[string]string{"email": "who@example.com", "password": "pw1"}, nil)

	assert.Equal(t, http.StatusUnauthorized, rrWrong.Code)
	assert.Equal(t, rrWrong.Code, rrUnknown.Code)
	assert.Equal(t, wrong.Errors, unknown.Errors)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(wrong))
	assert.Empty(t, rrWrong.Result().Cookies())
}

func TestProtectedOperation_RequiresSession(t *testing.T) {
	a := newAPI(t, nil)

	for _, name := range []string{"profile", "signOut", "updateUsername", "deleteAccount", "createProject", "followMember"} {
		t.Run(name, func(t *testing.T) {
			rr, env := a.call(t, name, map[string]string{}, nil)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "UNAUTHORIZED", errorCode(env))
		})
	}

	rr, env := a.call(t, "profile", nil, &http.Cookie{Name: testCookies.Name, Value: "forged"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(env))
}

func TestProtectedOperation_GateRunsBeforeArgs(t *testing.T) {
	a := newAPI(t, nil)

	_, env := a.call(t, "updateUsername", map[string]any{"bogus": 1}, nil)
	assert.Equal(t, "UNAUTHORIZED", errorCode(env))
}

func TestSignOut(t *testing.T) {
	a := newAPI(t, nil)
	cookie := a.signUpAndIn(t, "alice")

	rr, env := a.call(t, "signOut", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)
	assert.JSONEq(t, "true", string(env.Data["signOut"]))

	cleared := sessionCookie(t, rr)
	assert.Equal(t, -1, cleared.MaxAge)

	rr, env = a.call(t, "profile", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(env))
}

func TestUpdatePassword_WrongOldPassword(t *testing.T) {
	a := newAPI(t, nil)
	cookie := a.signUpAndIn(t, "alice")

	rr, env := a.call(t, "updatePassword", map[string]string{
		"oldPassword": "wrong", "newPassword": "pw2", "confirmedNewPassword": "pw2",
	}, cookie)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "INVALID_PASSWORD", errorCode(env))

	rr, _ = a.call(t, "signIn", map[string]string{"email": "alice@example.com", "password": "pw1"}, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDeleteAccount(t *testing.T) {
	a := newAPI(t, nil)
	cookie := a.signUpAndIn(t, "alice")

	rr, env := a.call(t, "deleteAccount", map[string]string{"password": "pw1"}, cookie)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)

	rr, env = a.call(t, "profile", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(env))
}

func TestArguments(t *testing.T) {
	a := newAPI(t, nil)
	cookie := a.signUpAndIn(t, "alice")

	tests := []struct {
		name      string
		operation string
		vars      any
		wantField string
	}{
		{"unknown argument", "updateUsername", map[string]any{"username": "x", "admin": true}, "admin"},
		{"wrong type", "updateUsername", map[string]any{"username": 42}, "username"},
		{"missing required", "getProjectById", map[string]any{}, "projectId"},
		{"limit too large", "getAllByOwner", map[string]any{"limit": 1000}, "limit"},
		{"negative offset", "getAllByOwner", map[string]any{"offset": -1}, "offset"},
		{"empty member list", "shareProject", map[string]any{"projectId": "p", "memberIds": []string{}}, "memberIds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, env := a.call(t, tt.operation, tt.vars, cookie)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "VALIDATION_ERROR", errorCode(env))
			assert.Equal(t, tt.wantField, env.Errors[0].Extensions.Field)
		})
	}
}

func TestMalformedRequests(t *testing.T) {
	a := newAPI(t, nil)

	rr, env := a.raw(t, []byte(`not json`), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(env))

	rr, env = a.call(t, "dropTables", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "operationName", env.Errors[0].Extensions.Field)
}

func TestThrottledOperations(t *testing.T) {
	a := newAPI(t, middleware.NewRateLimiter(rate.Limit(0.001), 2))

	creds := map[string]string{"email": "a@x.com", "password": "pw"}
	for i := 0; i < 2; i++ {
		_, env := a.call(t, "signIn", creds, nil)
		assert.Equal(t, "INVALID_CREDENTIALS", errorCode(env))
	}

	rr, env := a.call(t, "signIn", creds, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(env))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestProjectAndFollowOperations(t *testing.T) {
	a := newAPI(t, nil)
	alice := a.signUpAndIn(t, "alice")
	bob := a.signUpAndIn(t, "bob")

	rr, env := a.call(t, "createProject", map[string]any{
		"name": "demo", "sandpackTemplate": "react", "files": "{}", "isPublic": false,
	}, alice)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)
	var project struct {
		ID    string `json:"id"`
		Owner struct {
			Username string `json:"username"`
		} `json:"owner"`
	}
	require.NoError(t, json.Unmarshal(env.Data["createProject"], &project))
	assert.Equal(t, "alice", project.Owner.Username)

	rr, env = a.call(t, "getProjectById", map[string]string{"projectId": project.ID}, bob)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "PROJECT_NOT_FOUND", errorCode(env))

	rr, env = a.call(t, "updateProject", map[string]any{"projectId": project.ID, "isPublic": true}, alice)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)

	rr, env = a.call(t, "getAllPublicProjects", nil, bob)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)
	var public []map[string]any
	require.NoError(t, json.Unmarshal(env.Data["getAllPublicProjects"], &public))
	assert.Len(t, public, 1)

	rr, env = a.call(t, "favoriteProject", map[string]string{"projectId": project.ID}, bob)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)

	rr, env = a.call(t, "getFavoritedProjects", map[string]int{"limit": 10}, bob)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)
	assert.Contains(t, string(env.Data["getFavoritedProjects"]), project.ID)

	rr, env = a.call(t, "getAllByTemplate", map[string]any{"sandpackTemplate": "react", "limit": 5}, bob)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)
	assert.Contains(t, string(env.Data["getAllByTemplate"]), project.ID)

	rr, env = a.call(t, "getAllByTemplate", map[string]any{"sandpackTemplate": "vue"}, bob)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)
	assert.Equal(t, "[]", string(env.Data["getAllByTemplate"]))

	rr, env = a.call(t, "getAllByTemplate", map[string]any{"limit": 5}, bob)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "sandpackTemplate", env.Errors[0].Extensions.Field)

	rr, env = a.call(t, "memberByUsername", map[string]string{"username": "alice"}, bob)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)
	var aliceProfile struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(env.Data["memberByUsername"], &aliceProfile))
	require.NotEmpty(t, aliceProfile.ID)
	assert.Empty(t, aliceProfile.Email, "lookups expose the summary only")

	rr, env = a.call(t, "memberByUsername", map[string]string{"username": "nobody"}, bob)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "MEMBER_NOT_FOUND", errorCode(env))

	rr, env = a.call(t, "followMember", map[string]string{"memberId": aliceProfile.ID}, bob)
	require.Equal(t, http.StatusOK, rr.Code, env.Errors)

	rr, env = a.call(t, "followMember", map[string]string{"memberId": aliceProfile.ID}, alice)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(env))

	rr, env = a.call(t, "following", nil, bob)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(env.Data["following"]), `"username":"alice"`)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	ops := handler.Registry{}
	follows := handler.NewFollowResolvers(nil).Operations()
	ops.Register(follows)

	assert.Panics(t, func() { ops.Register(follows) })
}
