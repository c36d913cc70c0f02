package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/account"
	"github.com/mzazilink/backend/core/link"
	emailsvc "github.com/mzazilink/backend/services/email"
	logsvc "github.com/mzazilink/backend/services/logger"
	notifsvc "github.com/mzazilink/backend/services/notification"
	inmemdb "github.com/mzazilink/backend/storage/database/inmem"
)

const testSchoolID = "7c9a4a5e-49cf-4f6a-9ae6-3b9f5be37c11"

func testConfig() *core.Config {
	return &core.Config{
		AppName:          "MzaziLink",
		Env:              "test",
		TestMode:         true,
		SecretKey:        "0bffa5a4c8b6464d9a23a0b2c1e7d85f",
		DefaultFromEmail: mail.Address{Address: "noreply@test.local"},
		Server: core.ServerConfig{
			JWTExpirationDelta: time.Hour,
		},
		Link: core.LinkConfig{
			ConfirmationTimeout:    72 * time.Hour,
			ConfirmationCodeLength: 6,
			RetentionWindow:        90 * 24 * time.Hour,
		},
	}
}

type testEnv struct {
	conf     *core.Config
	server   Server
	linkRepo *inmemdb.LinkRepository
	members  *inmemdb.MembershipChecker
	acctSvc  account.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conf := testConfig()
	logger := logsvc.NewNopLogger()

	db := inmemdb.NewDB()
	linkRepo := inmemdb.NewLinkRepository(db)
	members := inmemdb.NewMembershipChecker(db)
	acctSvc := account.NewService(inmemdb.NewAccountRepository(db), logger)

	notifier := notifsvc.NewEmailNotifier(conf, emailsvc.NewConsoleServiceMock(conf), logger)
	linkSvc := link.NewService(linkRepo, members, notifier, logger, conf.Link)

	srv := NewServer(&Options{
		Addr:           ":0",
		DisableReqLogs: true,
		Conf:           conf,
		Logger:         logger,
		LinkSvc:        linkSvc,
		AccountSvc:     acctSvc,
	})
	return &testEnv{
		conf:     conf,
		server:   srv,
		linkRepo: linkRepo,
		members:  members,
		acctSvc:  acctSvc,
	}
}

// createAccount creates an account with the given role and returns it with a
// signed token for it.
func (te *testEnv) createAccount(t *testing.T, name, uname, role string) (account.Account, string) {
	t.Helper()
	acct, err := te.acctSvc.Create(context.Background(), account.NewAccount{
		SchoolID: testSchoolID,
		Name:     name,
		Username: uname,
		Email:    uname + "@test.local",
		Role:     role,
		Password: "Sup3rSecret!",
	})
	require.NoError(t, err)

	token, err := GenerateToken(te.conf, GetAccountClaims(te.conf, acct))
	require.NoError(t, err)
	return acct, token
}

// createGuardian also registers the guardian as a member of the test school.
func (te *testEnv) createGuardian(t *testing.T, name, uname string) (account.Account, string) {
	t.Helper()
	acct, token := te.createAccount(t, name, uname, account.RoleGuardian)
	te.members.AddGuardian(testSchoolID, acct.ID)
	return acct, token
}

func (te *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	te.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

func TestHomeAndMetrics(t *testing.T) {
	te := newTestEnv(t)

	rec := te.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = te.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mzazilink_link_transition_errors_total")
}

func TestLogin(t *testing.T) {
	te := newTestEnv(t)
	te.createAccount(t, "Head Teacher", "headteacher", account.RoleSchoolAdmin)

	rec := te.do(t, http.MethodPost, "/v1/accounts/login", "", echo.Map{
		"username": "headteacher", "password": "wrong",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = te.do(t, http.MethodPost, "/v1/accounts/login", "", echo.Map{
		"username": "headteacher", "password": "Sup3rSecret!",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.Token)

	rec = te.do(t, http.MethodGet, "/v1/accounts/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLinkLifecycle(t *testing.T) {
	te := newTestEnv(t)
	_, adminToken := te.createAccount(t, "Head Teacher", "headteacher", account.RoleSchoolAdmin)
	guardian, _ := te.createGuardian(t, "Mama Amina", "mamaamina")
	te.members.AddStudent(testSchoolID, "student-1")

	// tenancy always comes from the token
	rec := te.do(t, http.MethodPost, "/v1/links", adminToken, echo.Map{
		"school_id":         "some-other-school",
		"guardian_id":       guardian.ID,
		"student_id":        "student-1",
		"relationship_type": "primary_guardian",
		"permission_tier":   "view_only",
		"duration_type":     "permanent",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var req link.GuardianLinkRequest
	decode(t, rec, &req)
	require.Equal(t, testSchoolID, req.SchoolID)
	require.Equal(t, link.StatusPendingReview, req.Status)

	// a second request for the same pair conflicts
	rec = te.do(t, http.MethodPost, "/v1/links", adminToken, echo.Map{
		"guardian_id":       guardian.ID,
		"student_id":        "student-1",
		"relationship_type": "primary_guardian",
		"permission_tier":   "view_only",
		"duration_type":     "permanent",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = te.do(t, http.MethodGet, "/v1/links/pending", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// admin-initiated view_only activates without parent confirmation
	rec = te.do(t, http.MethodPost, "/v1/links/"+req.ID+"/approve", adminToken, echo.Map{
		"review_notes": "verified by phone",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &req)
	require.Equal(t, link.StatusActivated, req.Status)

	// approving again is a conflict, not a repeat
	rec = te.do(t, http.MethodPost, "/v1/links/"+req.ID+"/approve", adminToken, echo.Map{})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = te.do(t, http.MethodGet, "/v1/links/"+req.ID+"/history", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []link.AuditEntry
	decode(t, rec, &entries)
	require.Len(t, entries, 3) // activated, approved, initiated

	rec = te.do(t, http.MethodGet, "/v1/links/"+req.ID+"/history.xlsx", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, xlsxContentType, rec.Header().Get(echo.HeaderContentType))
	require.NotZero(t, rec.Body.Len())

	rec = te.do(t, http.MethodGet,
		"/v1/links/capabilities?guardian_id="+guardian.ID+"&student_id=student-1", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var caps link.Capabilities
	decode(t, rec, &caps)
	require.True(t, caps.CanViewAttendance)
	require.False(t, caps.CanViewFees)
}

func TestConfirmationFlow(t *testing.T) {
	te := newTestEnv(t)
	_, adminToken := te.createAccount(t, "Head Teacher", "headteacher", account.RoleSchoolAdmin)
	guardian, guardianToken := te.createGuardian(t, "Mama Amina", "mamaamina")
	te.members.AddStudent(testSchoolID, "student-1")

	rec := te.do(t, http.MethodPost, "/v1/links", adminToken, echo.Map{
		"guardian_id":         guardian.ID,
		"student_id":          "student-1",
		"relationship_type":   "primary_guardian",
		"permission_tier":     "full_access",
		"duration_type":       "permanent",
		"confirmation_method": guardian.Email,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var req link.GuardianLinkRequest
	decode(t, rec, &req)
	require.True(t, req.RequiresParentConfirmation)

	rec = te.do(t, http.MethodPost, "/v1/links/"+req.ID+"/approve", adminToken, echo.Map{})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &req)
	require.Equal(t, link.StatusPendingConfirmation, req.Status)

	rec = te.do(t, http.MethodPost, "/v1/links/"+req.ID+"/confirm", guardianToken, echo.Map{
		"code": "WRONG1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	code := te.linkRepo.Code(req.ID)
	require.True(t, code.Valid)
	rec = te.do(t, http.MethodPost, "/v1/links/"+req.ID+"/confirm", guardianToken, echo.Map{
		"code": code.String,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &req)
	require.Equal(t, link.StatusActivated, req.Status)
}

func TestRoleEnforcement(t *testing.T) {
	te := newTestEnv(t)
	_, adminToken := te.createAccount(t, "Head Teacher", "headteacher", account.RoleSchoolAdmin)
	guardianA, tokenA := te.createGuardian(t, "Mama Amina", "mamaamina")
	_, tokenB := te.createGuardian(t, "Baba Juma", "babajuma")
	te.members.AddStudent(testSchoolID, "student-1")

	// no token
	rec := te.do(t, http.MethodGet, "/v1/links/pending", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// guardians cannot review
	rec = te.do(t, http.MethodGet, "/v1/links/pending", tokenA, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = te.do(t, http.MethodPost, "/v1/links/x/approve", tokenA, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = te.do(t, http.MethodPost, "/v1/links/x/unlink", tokenA, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = te.do(t, http.MethodPost, "/v1/links", adminToken, echo.Map{
		"guardian_id":       guardianA.ID,
		"student_id":        "student-1",
		"relationship_type": "primary_guardian",
		"permission_tier":   "view_only",
		"duration_type":     "permanent",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var req link.GuardianLinkRequest
	decode(t, rec, &req)

	// another guardian cannot even see the request
	rec = te.do(t, http.MethodGet, "/v1/links/"+req.ID, tokenB, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = te.do(t, http.MethodGet, "/v1/links/"+req.ID, tokenA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryWindowClosed(t *testing.T) {
	te := newTestEnv(t)
	_, adminToken := te.createAccount(t, "Head Teacher", "headteacher", account.RoleSchoolAdmin)
	guardian, _ := te.createGuardian(t, "Mama Amina", "mamaamina")

	tomb := te.linkRepo.SeedRetention(link.Retention{
		SchoolID:       testSchoolID,
		GuardianID:     guardian.ID,
		StudentID:      "student-1",
		LinkRequestID:  "gone",
		DeletedAt:      time.Now().UTC().Add(-100 * 24 * time.Hour),
		DeletedBy:      "someone",
		DeletedByRole:  account.RoleSchoolAdmin,
		DeletionReason: "mislink",
		Relationship:   link.RelationPrimaryGuardian,
		Tier:           link.TierViewOnly,
		RetentionUntil: time.Now().UTC().Add(-10 * 24 * time.Hour),
	})

	rec := te.do(t, http.MethodGet, "/v1/retentions", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = te.do(t, http.MethodPost, "/v1/retentions/"+tomb.ID+"/recover", adminToken, echo.Map{
		"reason": "parent called back",
	})
	require.Equal(t, http.StatusGone, rec.Code)

	// the tombstone stays untouched
	rec = te.do(t, http.MethodGet, "/v1/retentions/"+tomb.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed link.Retention
	decode(t, rec, &refreshed)
	require.False(t, refreshed.RecoveredAt.Valid)
}

func TestIncidentEndpoints(t *testing.T) {
	te := newTestEnv(t)
	_, adminToken := te.createAccount(t, "Head Teacher", "headteacher", account.RoleSchoolAdmin)
	_, teacherToken := te.createAccount(t, "Mr Otieno", "mrotieno", account.RoleTeacher)
	guardian, guardianToken := te.createGuardian(t, "Mama Amina", "mamaamina")

	// guardians cannot raise incidents
	rec := te.do(t, http.MethodPost, "/v1/incidents", guardianToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = te.do(t, http.MethodPost, "/v1/incidents", teacherToken, echo.Map{
		"guardian_id":   guardian.ID,
		"student_id":    "student-1",
		"incident_type": "wrong_guardian",
		"severity":      "high",
		"description":   "guardian linked to the wrong student",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var inc link.Incident
	decode(t, rec, &inc)
	require.Equal(t, link.IncidentOpen, inc.Status)
	require.Equal(t, testSchoolID, inc.SchoolID)

	rec = te.do(t, http.MethodPost, "/v1/incidents/"+inc.ID+"/resolve", adminToken, echo.Map{
		"resolution_notes": "link removed and correct one issued",
		"root_cause":       "typo during enrolment",
		"link_removed":     true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &inc)
	require.Equal(t, link.IncidentResolved, inc.Status)
	require.True(t, inc.LinkRemoved)
	require.Equal(t, null.StringFrom("typo during enrolment"), inc.RootCause)

	rec = te.do(t, http.MethodGet, "/v1/incidents", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
