package echoapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/elearn/apps/api/echo"
	"github.com/trezcool/elearn/core/user"
	"github.com/trezcool/elearn/testutil"
)

const validPwd = "LolC@t123"

func Test_userApi_query(t *testing.T) {
	app := setup(t)

	path := func(search, ordering string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}
	bPtr := func(b bool) *bool { return &b }

	now := time.Now().UTC().Truncate(time.Second)
	hour := func(n int) time.Time { return now.Add(time.Duration(n) * time.Hour) }

	usr1 := testutil.CreateUser(t, app.usrRepo, "User", "awe", "awe@test.cd", "", nil, true, hour(1))
	usr2 := testutil.CreateUser(t, app.usrRepo, "King", "user02", "king@test.cd", "", nil, true, hour(0))
	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "user3@test.cd", "", []string{user.RoleStudent}, true, hour(-1))
	admin := testutil.CreateUser(t, app.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true, hour(2))
	principal := testutil.CreateUser(t, app.usrRepo, "Principal", "princip", "princip@test.cd", "", []string{user.RoleAdminPrincipal}, true, hour(-2))
	teacher := testutil.CreateUser(t, app.usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true, hour(3))
	naughty := testutil.CreateUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleStudent}, false, hour(-3))

	adminToken := app.token(t, admin)
	empty := marchallList(t)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: app.token(t, student), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Get all", path: "/v1/users", token: adminToken,
			wantData: marchallList(t, teacher, admin, usr1, usr2, student, principal, naughty),
		},
		// filtering
		{name: "search (unknown)", path: path("lol", "", nil), token: adminToken, wantData: empty},
		{name: "search=USE", path: path("USE", "", nil), token: adminToken, wantData: marchallList(t, usr1, usr2, student)},
		{name: "role (unknown)", path: path("", "", nil, "lol"), token: adminToken, wantData: empty},
		{name: "role=admin:", path: path("", "", nil, user.RoleAdmin), token: adminToken, wantData: marchallList(t, admin, principal)},
		{
			name: "role=teacher:,student:", path: path("", "", nil, user.RoleTeacher, user.RoleStudent),
			token: adminToken, wantData: marchallList(t, teacher, student, naughty),
		},
		{
			name: "is_active=true", path: path("", "", bPtr(true)),
			token: adminToken, wantData: marchallList(t, teacher, admin, usr1, usr2, student, principal),
		},
		{name: "is_active=false", path: path("", "", bPtr(false)), token: adminToken, wantData: marchallList(t, naughty)},
		// ordering
		{
			name: "order by created_at", path: path("", "created_at", nil), token: adminToken,
			wantData: marchallList(t, naughty, principal, student, usr2, usr1, admin, teacher),
		},
		{
			name: "order by name", path: path("", "name", nil), token: adminToken,
			wantData: marchallList(t, admin, student, usr2, naughty, principal, teacher, usr1),
		},
		{
			name: "order by is_active,-name", path: path("", "is_active,-name", nil), token: adminToken,
			wantData: marchallList(t, naughty, usr1, teacher, principal, usr2, student, admin),
		},
		// filtering & ordering
		{
			name: "filtering & ordering", path: path("", "name", nil, user.RoleTeacher, user.RoleStudent), token: adminToken,
			wantData: marchallList(t, student, naughty, teacher),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runHTTPTests(t, app, tests)
}

func Test_userApi_login(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", validPwd, []string{user.RoleStudent}, true)
	testutil.CreateUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.cd", validPwd, []string{user.RoleStudent}, false)

	reqMsg := "this field is required"
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": reqMsg, "password": reqMsg}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "lol", Password: validPwd}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "hero", Password: "lol"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "inactive user", wantCode: http.StatusForbidden,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "ndog", Password: validPwd}),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/login"
	}
	runHTTPTests(t, app, tests)

	for _, uname := range []string{"HERO", "hero@test.cd"} {
		t.Run("logged in as "+uname, func(t *testing.T) {
			body := marchallObj(t, echoapi.LoginRequest{Username: uname, Password: validPwd})
			req, rec := newRequest(http.MethodPost, "/v1/users/login", body)
			app.serve(req, rec)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp echoapi.LoginResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			claims, err := echoapi.ParseToken(app.conf, resp.Token)
			require.NoError(t, err)
			assert.Equal(t, student.ID, claims.UserID())
			assert.True(t, claims.IsStudent)

			usr, err := app.usrSvc.GetByID(context.Background(), student.ID)
			require.NoError(t, err)
			assert.False(t, usr.LastLogin.IsZero())
		})
	}
}

func Test_userApi_register(t *testing.T) {
	app := setup(t)

	testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", "", nil, true)

	newUser := func(uname, email, pwd string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name:            "Tom",
			Username:        uname,
			Email:           email,
			Password:        pwd,
			PasswordConfirm: pwd,
			Roles:           roles,
		})
	}

	tests := []httpTest{
		{
			name: "username taken", wantCode: http.StatusBadRequest, body: newUser("hero", "tom@test.cd", validPwd),
			wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
		{
			name: "public name taken", wantCode: http.StatusBadRequest, body: newUser("", "hero@other.cd", validPwd),
			wantData: marchallObj(t, map[string]string{"public_name": user.ErrPublicNameExists.Error()}),
		},
		{
			name: "weak password", wantCode: http.StatusBadRequest, body: newUser("tom", "tom@test.cd", "lol12345"),
			wantData: marchallObj(t, map[string]string{"password": "password must contain at least 1 uppercase character, " +
				"1 lowercase character, 1 digit and 1 special character"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/register"
	}
	runHTTPTests(t, app, tests)

	t.Run("registered as student", func(t *testing.T) {
		// requested roles are ignored
		req, rec := newRequest(http.MethodPost, "/v1/users/register", newUser("tom", "tom@test.cd", validPwd, user.RoleAdminOwner))
		app.serve(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp echoapi.RegisterResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, []string{user.RoleStudent}, resp.User.Roles)
		assert.Equal(t, "tom", resp.User.Profile.PublicName)
		assert.True(t, resp.User.IsActive)
	})
}

func Test_userApi_me(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	testutil.CreateUser(t, app.usrRepo, "King", "king", "king@test.cd", "", []string{user.RoleStudent}, true)
	token := app.token(t, student)

	updated := student
	updated.Profile = user.Profile{PublicName: "Superman", PublicStatus: "flying", PublicBio: "from Krypton"}

	tests := []httpTest{
		{name: "Auth required", method: http.MethodGet, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Get me", method: http.MethodGet, token: token, wantData: marchallObj(t, student)},
		{
			name: "public name required", method: http.MethodPut, token: token, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.UpdateProfile{PublicName: "  "}),
			wantData: marchallObj(t, map[string]string{"public_name": "this field is required"}),
		},
		{
			name: "public name taken", method: http.MethodPut, token: token, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.UpdateProfile{PublicName: "king"}),
			wantData: marchallObj(t, map[string]string{"public_name": user.ErrPublicNameExists.Error()}),
		},
		{
			name: "own public name kept", method: http.MethodPut, token: token,
			body: marchallObj(t, user.UpdateProfile{PublicName: "hero"}),
		},
		{
			name: "profile updated", method: http.MethodPut, token: token,
			body: marchallObj(t, user.UpdateProfile{PublicName: " Superman ", PublicStatus: "flying", PublicBio: "from Krypton"}),
		},
	}
	for i := range tests {
		tests[i].path = "/v1/users/me"
	}
	runHTTPTests(t, app, tests)

	usr, err := app.usrSvc.GetByID(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Profile, usr.Profile)
}

func Test_userApi_retrievePublic(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	token := app.token(t, student)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users/1/public", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "public profile only", path: "/v1/users/" + strconv.Itoa(student.ID) + "/public", token: token,
			wantData: marchallObj(t, echoapi.PublicProfileResponse{ID: student.ID, Profile: student.Profile}),
		},
		{name: "unknown user", path: "/v1/users/999/public", token: token, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
		{name: "bad id", path: "/v1/users/lol/public", token: token, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runHTTPTests(t, app, tests)
}

func Test_userApi_create(t *testing.T) {
	app := setup(t)

	admin := testutil.CreateUser(t, app.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	teacher := testutil.CreateUser(t, app.usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true)

	newUser := func(uname string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name: "Tom", Username: uname, Password: validPwd, PasswordConfirm: validPwd, Roles: roles,
		})
	}

	tests := []httpTest{
		{name: "Admin required", body: newUser("tom"), token: app.token(t, teacher), wantCode: http.StatusForbidden},
		{
			name: "role above own", body: newUser("tom", user.RoleAdminOwner), token: app.token(t, admin), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
		{name: "created", body: newUser("tom", user.RoleTeacher), token: app.token(t, admin), wantCode: http.StatusCreated},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users"
	}
	runHTTPTests(t, app, tests)

	usr, err := app.usrSvc.GetByUsernameOrEmail(context.Background(), "tom")
	require.NoError(t, err)
	assert.Equal(t, []string{user.RoleTeacher}, usr.Roles)
}

func Test_userApi_destroy(t *testing.T) {
	app := setup(t)

	admin := testutil.CreateUser(t, app.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, app.usrRepo, "King", "king", "king@test.cd", "", []string{user.RoleStudent}, true)
	adminToken := app.token(t, admin)
	studentToken := app.token(t, student)

	userPath := func(id int) string { return "/v1/users/" + strconv.Itoa(id) }
	tests := []httpTest{
		{name: "Admin required", path: userPath(other.ID), token: studentToken, wantCode: http.StatusForbidden},
		{name: "cannot delete self", path: userPath(admin.ID), token: adminToken, wantCode: http.StatusForbidden},
		{name: "unknown user", path: userPath(999), token: adminToken, wantCode: http.StatusNotFound},
		{name: "deleted", path: userPath(other.ID), token: adminToken, wantCode: http.StatusNoContent},
		{name: "deleted again", path: userPath(other.ID), token: adminToken, wantCode: http.StatusNotFound},
		{name: "deleted user's token", method: http.MethodGet, path: "/v1/users/me", token: app.token(t, other), wantCode: http.StatusUnauthorized},
	}
	for i := range tests {
		if tests[i].method == "" {
			tests[i].method = http.MethodDelete
		}
	}
	runHTTPTests(t, app, tests)
}

func Test_userApi_refreshToken(t *testing.T) {
	app := setup(t)

	naughty := testutil.CreateUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleStudent}, false)
	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "user3@test.cd", "", []string{user.RoleStudent}, true)

	now := time.Now()
	unrefreshableClaims := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    app.conf.AppName,
			Subject:   strconv.Itoa(student.ID),
			Audience:  "Academia",
			ExpiresAt: now.Add(app.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * app.conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		IsStudent:    true,
		Roles:        student.Roles,
	}
	unrefreshableToken, err := echoapi.GenerateToken(app.conf, unrefreshableClaims)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Inactive user not allowed", token: app.token(t, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Bad token", token: "lol", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid or expired jwt"})},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/token-refresh"
	}
	runHTTPTests(t, app, tests)

	t.Run("Token refreshed", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", app.token(t, student))
		app.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)

		// cannot guess new token.. just check that it's valid
		var respData echoapi.LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &respData))
		claims, err := echoapi.ParseToken(app.conf, respData.Token)
		require.NoError(t, err)
		assert.Equal(t, student.ID, claims.UserID())
	})
}
