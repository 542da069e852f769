package main

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/russross/practicalgrader/grader"
	"github.com/russross/practicalgrader/host"
	. "github.com/russross/practicalgrader/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const siteFixture = `
[module "quiz"]
grade
capability = mod/quiz:grade

[module "forum"]

[course "CS101"]

[user "teacher"]
email = teacher@example.org
enrol = CS101

[user "helper"]
email = helper@example.org
enrol = CS101

[user "stu"]
email = stu@example.org
enrol = CS101

[user "root"]
email = root@example.org
admin

[activity "quiz07"]
type = quiz
course = CS101
name = Quiz 7
grade = 100

[activity "quiz08"]
type = quiz
course = CS101
name = Quiz 8
grade = 10

[activity "chat_1"]
type = forum
course = CS101

[gradeitem "quiz08-locked"]
activity = quiz08
locked

[grant "teacher-service"]
user = teacher
capability = local/practicalgrader:grade

[grant "teacher-quiz07"]
user = teacher
capability = mod/quiz:grade
context = module
instance = quiz07

[grant "teacher-quiz08"]
user = teacher
capability = mod/quiz:grade
context = module
instance = quiz08

[grant "helper-quiz07"]
user = helper
capability = mod/quiz:grade
context = module
instance = quiz07

[token "teacher-token"]
user = teacher

[token "teacher-mobile"]
user = teacher
service = moodle_mobile_app

[token "helper-token"]
user = helper

[user "marker"]
email = marker@example.org
enrol = CS101

[grant "marker-service"]
user = marker
capability = local/practicalgrader:grade

[token "root-token"]
user = root

[token "marker-token"]
user = marker
`

type testServer struct {
	db      *sql.DB
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	Config.SessionSecret = "not a very secret secret"
	Config.SessionHours = 1

	db, err := host.Open(filepath.Join(t.TempDir(), "site.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, host.CreateSchema(db))
	require.NoError(t, host.LoadFixtureString(db, siteFixture))

	return &testServer{
		db:      db,
		handler: newServer(db, grader.NewHandler(grader.DefaultRegistry()), io.Discard),
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func saveRequest(token, activity, email, grade string) *http.Request {
	form := url.Values{}
	form.Set("wstoken", token)
	form.Set("activityidnumber", activity)
	form.Set("studentemail", email)
	form.Set("activitygrade", grade)
	req := httptest.NewRequest(http.MethodPost, "/v2/functions/"+SaveGradeFunction, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var status string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status), w.Body.String())
	return status
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *ErrorResponse {
	t.Helper()
	resp := new(ErrorResponse)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), resp), w.Body.String())
	return resp
}

func (s *testServer) gradeCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM grade_grades`).Scan(&n))
	return n
}

func TestVersion(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/v2/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var version Version
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &version))
	assert.Equal(t, CurrentVersion, version)
}

func TestSaveGrade_OK(t *testing.T) {
	s := newTestServer(t)

	w := s.do(saveRequest("teacher-token", "quiz07", "stu@example.org", "85"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "OK", decodeStatus(t, w))

	var final float64
	require.NoError(t, s.db.QueryRow(`SELECT final_grade FROM grade_grades JOIN users ON users.id = grade_grades.user_id `+
		`WHERE users.username = 'stu'`).Scan(&final))
	assert.Equal(t, 85.0, final)
}

func TestSaveGrade_JSONBodyAndBearerToken(t *testing.T) {
	s := newTestServer(t)
	body := `{"activityidnumber":"quiz07","studentemail":"stu@example.org","activitygrade":"70"}`
	req := httptest.NewRequest(http.MethodPost, "/v2/functions/"+SaveGradeFunction, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer teacher-token")

	w := s.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "OK", decodeStatus(t, w))
	assert.Equal(t, 1, s.gradeCount(t))
}

func TestSaveGrade_HardFailures(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		activity string
		email    string
		status   int
		code     string
		mention  string
	}{
		{"bad token", "nope", "quiz07", "stu@example.org", http.StatusUnauthorized, "invalidtoken", ""},
		{"malformed key", "teacher-token", "quiz 07", "stu@example.org", http.StatusBadRequest, "invalidparameter", "quiz 07"},
		{"unknown activity", "teacher-token", "quiz99", "stu@example.org", http.StatusNotFound, "errornoactivity", "quiz99"},
		{"ungradable activity", "teacher-token", "chat_1", "stu@example.org", http.StatusUnprocessableEntity, "errornomodulegrades", "chat_1"},
		{"unknown student", "teacher-token", "quiz07", "nobody@example.org", http.StatusNotFound, "errornocourseuser", "nobody@example.org"},
		{"malformed email", "teacher-token", "quiz07", "example.org", http.StatusBadRequest, "invalidparameter", "example.org"},
		{"other service token", "teacher-mobile", "quiz07", "stu@example.org", http.StatusForbidden, "accessexception", ServiceShortName},
		{"gate rejects without service capability", "helper-token", "quiz07", "stu@example.org", http.StatusForbidden, "accessexception", ServiceCapability},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)

			w := s.do(saveRequest(tc.token, tc.activity, tc.email, "85"))

			require.Equal(t, tc.status, w.Code, w.Body.String())
			resp := decodeError(t, w)
			assert.Equal(t, tc.code, resp.ErrorCode)
			assert.NotEmpty(t, resp.Exception)
			assert.Contains(t, resp.Message, tc.mention)
			assert.Equal(t, 0, s.gradeCount(t))
		})
	}
}

func TestSaveGrade_ActivityCapabilityRequired_AfterServiceGate(t *testing.T) {
	s := newTestServer(t)

	w := s.do(saveRequest("marker-token", "quiz07", "stu@example.org", "85"))

	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	resp := decodeError(t, w)
	assert.Equal(t, "required_capability_exception", resp.Exception)
	assert.Equal(t, "errornocapability", resp.ErrorCode)
	assert.Contains(t, resp.Message, "marker")
	assert.Contains(t, resp.Message, "mod/quiz:grade")
	assert.Equal(t, 0, s.gradeCount(t))
}

func TestSaveGrade_BindingFailures(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{"unsupported content type", "text/plain", "activityidnumber=quiz07", http.StatusUnsupportedMediaType},
		{"missing content type", "", `{"activityidnumber":"quiz07"}`, http.StatusUnsupportedMediaType},
		{"malformed json", "application/json", `{"activityidnumber":`, http.StatusBadRequest},
		{"wrong json type", "application/json", `{"activityidnumber":7}`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			req := httptest.NewRequest(http.MethodPost, "/v2/functions/"+SaveGradeFunction, strings.NewReader(tc.body))
			req.Header.Set("Authorization", "Bearer teacher-token")
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}

			w := s.do(req)

			require.Equal(t, tc.status, w.Code, w.Body.String())
			resp := decodeError(t, w)
			assert.Equal(t, "invalid_parameter_exception", resp.Exception)
			assert.Equal(t, "invalidparameter", resp.ErrorCode)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, 0, s.gradeCount(t))
		})
	}
}

func TestSaveGrade_AmbiguousStudent(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, host.LoadFixtureString(s.db, `
[user "stu2"]
email = stu@example.org.uk
enrol = CS101
`))

	w := s.do(saveRequest("teacher-token", "quiz07", "stu@example.org", "85"))

	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "errortoomanyusers", decodeError(t, w).ErrorCode)
	assert.Equal(t, 0, s.gradeCount(t))
}

func TestSaveGrade_FailedCallRollsBack(t *testing.T) {
	s := newTestServer(t)
	lastAccess := func() sql.NullTime {
		var when sql.NullTime
		require.NoError(t, s.db.QueryRow(`SELECT last_access FROM external_tokens WHERE token = 'teacher-token'`).Scan(&when))
		return when
	}

	w := s.do(saveRequest("teacher-token", "quiz99", "stu@example.org", "85"))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, lastAccess().Valid, "token stamp rolled back")

	w = s.do(saveRequest("teacher-token", "quiz07", "stu@example.org", "85"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, lastAccess().Valid, "token stamp committed")
}

func TestSaveGrade_SoftOutcomes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(saveRequest("teacher-token", "quiz08", "stu@example.org", "9"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Grade item is locked", decodeStatus(t, w))

	req := saveRequest("teacher-token", "quiz08", "stu@example.org", "9")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9")
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "O item de nota está bloqueado", decodeStatus(t, w))

	w = s.do(saveRequest("teacher-token", "quiz07", "stu@example.org", "lots"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Grade update failed", decodeStatus(t, w))

	assert.Equal(t, 0, s.gradeCount(t))
}

func TestSaveGrade_LocalizedError(t *testing.T) {
	s := newTestServer(t)
	req := saveRequest("teacher-token", "quiz99", "stu@example.org", "85")
	req.URL.RawQuery = "lang=pt-BR"

	w := s.do(req)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Nenhuma atividade encontrada com idnumber quiz99", decodeError(t, w).Message)
}

func TestUnknownFunction(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v2/functions/core_user_delete_users?wstoken=teacher-token", nil)

	w := s.do(req)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "invalidfunction", decodeError(t, w).ErrorCode)
}

func TestGetFunctions(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/v2/functions?wstoken=teacher-token", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var functions []*ExternalFunction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &functions))
	require.Len(t, functions, 1)
	assert.Equal(t, SaveGradeFunction, functions[0].Name)
	assert.Len(t, functions[0].Parameters, 3)
}

func TestSessionCookie(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodPost, "/v2/users/session?wstoken=teacher-token", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	cookie := result["Cookie"]
	require.True(t, strings.HasPrefix(cookie, CookieName+"="))

	req := httptest.NewRequest(http.MethodGet, "/v2/users/me", nil)
	req.Header.Set("Cookie", cookie)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "teacher", me.Username)

	req = saveRequest("", "quiz07", "stu@example.org", "85")
	req.Header.Set("Cookie", cookie)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "OK", decodeStatus(t, w))

	req = httptest.NewRequest(http.MethodGet, "/v2/users/me", nil)
	req.Header.Set("Cookie", CookieName+"=forged")
	w = s.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionCookie_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	session := NewSession(1, ServiceShortName, time.Now())
	rec := httptest.NewRecorder()
	cookie, err := session.Save(rec)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v2/users/session", nil)
	req.Header.Set("Cookie", cookie)
	w := s.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStats_AdministratorOnly(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/v2/stats?wstoken=teacher-token", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/v2/stats?wstoken=root-token", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var counters map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counters))
	assert.Contains(t, counters, "gradesSaved")
	assert.Contains(t, counters, "hits")
}
