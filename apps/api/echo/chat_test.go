package echoapi_test

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/elearn/apps/api/echo"
	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/core/user"
	"github.com/trezcool/elearn/testutil"
)

func roomPath(id int) string {
	return "/v1/chat/rooms/" + strconv.Itoa(id)
}

func createRoom(t *testing.T, app *testApp, name string) chat.Room {
	t.Helper()
	room, _, err := app.rooms.GetOrCreate(context.Background(), chat.NewRoom{Name: name})
	require.NoError(t, err)
	return room
}

func Test_chatApi_list(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	general := createRoom(t, app, "General")
	maths := createRoom(t, app, "Maths")
	algebra := createRoom(t, app, "Algebra")
	require.NoError(t, app.rooms.AddMember(context.Background(), general.ID, student.ID))

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "mine and others", token: app.token(t, student),
			wantData: marchallObj(t, echoapi.RoomListResponse{
				UserRooms:  []chat.Room{general},
				OtherRooms: []chat.Room{algebra, maths},
			}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
		tests[i].path = "/v1/chat/rooms"
	}
	runHTTPTests(t, app, tests)
}

func Test_chatApi_retrieve(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	king := testutil.CreateUser(t, app.usrRepo, "King", "king", "king@test.cd", "", []string{user.RoleStudent}, true)
	general := createRoom(t, app, "General")
	maths := createRoom(t, app, "Maths")
	require.NoError(t, app.rooms.AddMember(ctx, general.ID, student.ID))

	msg1, err := app.messages.Append(ctx, general.ID, student.ID, "hello")
	require.NoError(t, err)
	msg2, err := app.messages.Append(ctx, general.ID, king.ID, " hi there ")
	require.NoError(t, err)

	token := app.token(t, student)
	tests := []httpTest{
		{name: "Auth required", path: roomPath(general.ID), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "member with history", path: roomPath(general.ID), token: token,
			wantData: marchallObj(t, echoapi.RoomResponse{
				Room:     general,
				IsMember: true,
				Messages: []echoapi.MessageView{
					{ID: msg1.ID, Content: "hello", DisplayName: "hero", CreatedAt: msg1.CreatedAt},
					{ID: msg2.ID, Content: "hi there", DisplayName: "king", CreatedAt: msg2.CreatedAt},
				},
			}),
		},
		{
			name: "not a member, no history", path: roomPath(maths.ID), token: token,
			wantData: marchallObj(t, echoapi.RoomResponse{Room: maths, Messages: []echoapi.MessageView{}}),
		},
		{name: "unknown room", path: roomPath(999), token: token, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runHTTPTests(t, app, tests)
}

func Test_chatApi_updateMembership(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	general := createRoom(t, app, "General")
	token := app.token(t, student)

	isMember := func() bool {
		ok, err := app.rooms.IsMember(context.Background(), general.ID, student.ID)
		require.NoError(t, err)
		return ok
	}
	action := func(a string) []byte { return marchallObj(t, echoapi.MembershipRequest{Action: a}) }

	tests := []struct {
		httpTest
		wantMember bool
	}{
		{httpTest: httpTest{name: "subscribe", body: action("subscribe"), wantCode: http.StatusFound, wantLoc: roomPath(general.ID)}, wantMember: true},
		{httpTest: httpTest{name: "subscribe again", body: action("Subscribe"), wantCode: http.StatusFound, wantLoc: roomPath(general.ID)}, wantMember: true},
		{httpTest: httpTest{name: "unknown action", body: action("lol"), wantCode: http.StatusFound, wantLoc: roomPath(general.ID)}, wantMember: true},
		{httpTest: httpTest{name: "unsubscribe", body: action("unsubscribe"), wantCode: http.StatusFound, wantLoc: roomPath(general.ID)}, wantMember: false},
		{httpTest: httpTest{name: "unsubscribe again", body: action("unsubscribe"), wantCode: http.StatusFound, wantLoc: roomPath(general.ID)}, wantMember: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, roomPath(general.ID), token, tt.body)
			app.serve(req, rec)
			checkCodeAndData(t, tt.httpTest, rec)
			assert.Equal(t, tt.wantMember, isMember())
		})
	}

	t.Run("unknown room", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, roomPath(999), token, action("subscribe"))
		app.serve(req, rec)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_chatApi_createOrRedirect(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	general := createRoom(t, app, "General")
	token := app.token(t, student)

	path := func(name string) string {
		return "/v1/chat/create-or-redirect?" + url.Values{"room_name": {name}}.Encode()
	}

	tests := []httpTest{
		{name: "Auth required", path: path("General"), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "no name", path: "/v1/chat/create-or-redirect", token: token, wantCode: http.StatusFound, wantLoc: "/v1/chat/rooms"},
		{name: "blank name", path: path("   "), token: token, wantCode: http.StatusFound, wantLoc: "/v1/chat/rooms"},
		{name: "existing room", path: path(" General "), token: token, wantCode: http.StatusFound, wantLoc: roomPath(general.ID)},
		{
			name: "new room asks for confirmation", path: path(" Physics "), token: token,
			wantData: marchallObj(t, echoapi.CreateConfirmResponse{RoomName: "Physics"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runHTTPTests(t, app, tests)

	_, err := app.rooms.GetByName(context.Background(), "Physics")
	assert.Equal(t, chat.ErrRoomNotFound, err)
}

func Test_chatApi_confirmCreate(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	king := testutil.CreateUser(t, app.usrRepo, "King", "king", "king@test.cd", "", []string{user.RoleStudent}, true)

	tests := []httpTest{
		{
			name: "name required", token: app.token(t, student), wantCode: http.StatusBadRequest,
			body:     marchallObj(t, chat.NewRoom{Name: "  "}),
			wantData: marchallObj(t, map[string]string{"room_name": "this field is required"}),
		},
		{
			name: "created", token: app.token(t, student), wantCode: http.StatusFound, wantLoc: roomPath(1),
			body: marchallObj(t, chat.NewRoom{Name: " Physics ", Description: "all about physics"}),
		},
		{
			name: "already created", token: app.token(t, king), wantCode: http.StatusFound, wantLoc: roomPath(1),
			body: marchallObj(t, chat.NewRoom{Name: "Physics"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/chat/create-confirm"
	}
	runHTTPTests(t, app, tests)

	room, err := app.rooms.GetByName(ctx, "Physics")
	require.NoError(t, err)
	assert.Equal(t, 1, room.ID)
	assert.Equal(t, "all about physics", room.Description)

	members, err := app.rooms.Members(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{student.ID, king.ID}, members)
}
