package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/elearn/apps/api/echo"
	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/core/course"
	"github.com/trezcool/elearn/core/user"
	appfs "github.com/trezcool/elearn/fs"
	emailsvc "github.com/trezcool/elearn/services/email"
	inmemdb "github.com/trezcool/elearn/storage/database/inmem"
	"github.com/trezcool/elearn/testutil"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	conf       *core.Config
	server     *echoapi.Server
	usrRepo    user.Repository
	usrSvc     *user.Service
	rooms      *chat.Registry
	messages   *chat.MessageStore
	courseRepo course.Repository
	courseSvc  *course.Service
	mailSvc    *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T) *testApp {
	t.Helper()

	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)
	validate, translator := testutil.NewValidator()
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)

	// set up DB & repos
	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	chatRepo := inmemdb.NewChatRepository(db)
	courseRepo := inmemdb.NewCourseRepository(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(usrRepo)
	rooms := chat.NewRegistry(chatRepo, validate)
	messages := chat.NewMessageStore(chatRepo, conf.Chat.MessageMaxLength)
	handler := chat.NewHandler(
		chat.NewGate(usrSvc, rooms, conf.Chat.MembersOnly),
		messages,
		usrSvc,
		chat.NewInMemBroadcaster(logger),
		logger,
		chat.Options{WriteTimeout: conf.Chat.WriteTimeout, StrictProfiles: conf.Chat.StrictProfiles},
	)
	courseSvc := course.NewService(courseRepo, usrSvc, mailSvc, validate, logger)

	// set up server
	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		UserSvc:    usrSvc,
		Rooms:      rooms,
		Messages:   messages,
		Chat:       handler,
		CourseSvc:  courseSvc,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	return &testApp{
		conf:       conf,
		server:     server,
		usrRepo:    usrRepo,
		usrSvc:     usrSvc,
		rooms:      rooms,
		messages:   messages,
		courseRepo: courseRepo,
		courseSvc:  courseSvc,
		mailSvc:    mailSvc,
	}
}

func (app *testApp) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	app.server.ServeHTTP(rec, req)
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(app.conf, echoapi.GetUserClaims(app.conf, usr))
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	return token
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	wantLoc  string
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

// checkCodeAndData compares the status code, the redirect location when one is wanted, and the JSON body when one is wanted.
func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "status code; body %s", rec.Body.String())
	if tt.wantLoc != "" {
		assert.Equal(t, tt.wantLoc, rec.Header().Get("Location"))
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v; body %s", err, rec.Body.String())
		return
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}
