package organization

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zllovesuki/seatplan/auth"
	resp "github.com/zllovesuki/seatplan/response"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v7"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type envelope struct {
	Error  bool            `json:"error"`
	Result json.RawMessage `json:"result"`
}

type testServer struct {
	*Service
	handler http.Handler
	tokens  map[string]string
}

func newTestServer(t *testing.T) *testServer {
	mr := miniredis.RunT(t)
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() {
		rdb.Close()
	})

	logger := zaptest.NewLogger(t)
	a, err := auth.New(auth.Options{
		Redis:         rdb,
		Logger:        logger,
		JWTSigningKey: "0123456789abcdef0123456789abcdef",
		EmailOption: auth.EmailOption{
			Name:          "seatplan",
			LinkGenerator: func(uid, token string) string { return uid + "/" + token },
		},
	})
	require.NoError(t, err)

	m, users := newTestManagers(t)
	s, err := NewService(Options{
		Auth:    a,
		Manager: m,
		Clock:   clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		Logger:  logger,
		Mounts: map[string]http.Handler{
			"/echo": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				org, m, _ := FromContext(r.Context())
				resp.WriteResponse(w, r, Response{Organization: org, Role: m.Role})
			}),
		},
	})
	require.NoError(t, err)

	ts := &testServer{
		Service: s,
		handler: s.Router(),
		tokens:  make(map[string]string),
	}
	for _, email := range []string{"owner@example.test", "admin@example.test", "member@example.test", "stranger@example.test"} {
		u := mustUser(t, users, email)
		token, err := a.CreateTokenFromClaims(auth.Claims{ID: u.ID, Email: u.Email})
		require.NoError(t, err)
		ts.tokens[email] = token
		ts.tokens[email+"#id"] = u.ID
	}
	return ts
}

func (ts *testServer) do(t *testing.T, as, method, path string, body interface{}) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+ts.tokens[as])
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (ts *testServer) id(email string) string {
	return ts.tokens[email+"#id"]
}

// seed creates "acme" owned by owner@ with an admin and a member
func (ts *testServer) seed(t *testing.T) *Organization {
	ctx := context.Background()
	code, env := ts.do(t, "owner@example.test", http.MethodPost, "/", CreateRequest{Name: "Acme"})
	require.Equal(t, http.StatusCreated, code)

	var created Response
	require.NoError(t, json.Unmarshal(env.Result, &created))
	require.Equal(t, "acme", created.Slug)
	require.Equal(t, RoleOwner, created.Role)
	require.Equal(t, "owner@example.test", created.BillingEmail)

	_, err := ts.Manager.AddMember(ctx, created.ID, ts.id("admin@example.test"), RoleAdmin)
	require.NoError(t, err)
	_, err = ts.Manager.AddMember(ctx, created.ID, ts.id("member@example.test"), RoleMember)
	require.NoError(t, err)
	return created.Organization
}

func TestServiceRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServiceOrganization(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	code, env := ts.do(t, "member@example.test", http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, code)
	var orgs []Organization
	require.NoError(t, json.Unmarshal(env.Result, &orgs))
	require.Len(t, orgs, 1)

	code, _ = ts.do(t, "stranger@example.test", http.MethodGet, "/acme", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, "owner@example.test", http.MethodGet, "/missing", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, env = ts.do(t, "member@example.test", http.MethodGet, "/acme", nil)
	require.Equal(t, http.StatusOK, code)
	var got Response
	require.NoError(t, json.Unmarshal(env.Result, &got))
	require.Equal(t, RoleMember, got.Role)

	name := "Acme Corp"
	code, _ = ts.do(t, "member@example.test", http.MethodPatch, "/acme", UpdateRequest{Name: &name})
	require.Equal(t, http.StatusForbidden, code)

	code, env = ts.do(t, "admin@example.test", http.MethodPatch, "/acme", UpdateRequest{Name: &name})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Result, &got))
	require.Equal(t, "Acme Corp", got.Name)

	bad := "not an email"
	code, _ = ts.do(t, "admin@example.test", http.MethodPatch, "/acme", UpdateRequest{BillingEmail: &bad})
	require.Equal(t, http.StatusBadRequest, code)

	code, env = ts.do(t, "member@example.test", http.MethodGet, "/acme/echo", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Result, &got))
	require.Equal(t, "acme", got.Slug)

	code, _ = ts.do(t, "admin@example.test", http.MethodDelete, "/acme", nil)
	require.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do(t, "owner@example.test", http.MethodDelete, "/acme", nil)
	require.Equal(t, http.StatusNoContent, code)

	code, _ = ts.do(t, "owner@example.test", http.MethodGet, "/acme", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestServiceMembers(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	code, env := ts.do(t, "member@example.test", http.MethodGet, "/acme/members", nil)
	require.Equal(t, http.StatusOK, code)
	var members []Member
	require.NoError(t, json.Unmarshal(env.Result, &members))
	require.Len(t, members, 3)

	ownerPath := "/acme/members/" + ts.id("owner@example.test")
	memberPath := "/acme/members/" + ts.id("member@example.test")

	code, _ = ts.do(t, "admin@example.test", http.MethodPatch, ownerPath, RoleRequest{Role: RoleMember})
	require.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do(t, "owner@example.test", http.MethodPatch, ownerPath, RoleRequest{Role: RoleAdmin})
	require.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, "owner@example.test", http.MethodPatch, memberPath, RoleRequest{Role: Role("root")})
	require.Equal(t, http.StatusBadRequest, code)

	code, env = ts.do(t, "admin@example.test", http.MethodPatch, memberPath, RoleRequest{Role: RoleAdmin})
	require.Equal(t, http.StatusOK, code)
	var updated Membership
	require.NoError(t, json.Unmarshal(env.Result, &updated))
	require.Equal(t, RoleAdmin, updated.Role)

	code, _ = ts.do(t, "owner@example.test", http.MethodPatch, "/acme/members/nobody", RoleRequest{Role: RoleAdmin})
	require.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, "owner@example.test", http.MethodDelete, ownerPath, nil)
	require.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, "member@example.test", http.MethodDelete, memberPath, nil)
	require.Equal(t, http.StatusNoContent, code)

	code, _ = ts.do(t, "member@example.test", http.MethodGet, "/acme", nil)
	require.Equal(t, http.StatusNotFound, code)
}
