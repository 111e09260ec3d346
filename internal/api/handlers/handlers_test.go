package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mylifebyai/mlbai/internal/api/middleware"
	"github.com/mylifebyai/mlbai/internal/logger"
	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/services"
	"github.com/mylifebyai/mlbai/internal/utils"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeLink struct {
	start    func(ctx context.Context, userID, redirectTo string) (string, error)
	callback func(ctx context.Context, in services.CallbackInput) services.CallbackOutcome
	unlink   func(ctx context.Context, userID, email string) (models.Role, error)
}

func (f *fakeLink) Start(ctx context.Context, userID, redirectTo string) (string, error) {
	return f.start(ctx, userID, redirectTo)
}

func (f *fakeLink) Callback(ctx context.Context, in services.CallbackInput) services.CallbackOutcome {
	return f.callback(ctx, in)
}

func (f *fakeLink) Unlink(ctx context.Context, userID, email string) (models.Role, error) {
	return f.unlink(ctx, userID, email)
}

type fakeSync struct {
	user  func(ctx context.Context, userID string) (*services.SyncReport, error)
	batch func(ctx context.Context, req services.BatchRequest) (*services.SyncReport, error)
	runs  func(ctx context.Context, limit int64) ([]models.SyncRun, error)
}

func (f *fakeSync) SyncUser(ctx context.Context, userID string) (*services.SyncReport, error) {
	return f.user(ctx, userID)
}

func (f *fakeSync) SyncBatch(ctx context.Context, req services.BatchRequest) (*services.SyncReport, error) {
	return f.batch(ctx, req)
}

func (f *fakeSync) RecentRuns(ctx context.Context, limit int64) ([]models.SyncRun, error) {
	return f.runs(ctx, limit)
}

type fakeProfiles struct {
	getOrCreate func(ctx context.Context, userID, email string) (*models.MemberProfile, error)
	setRole     func(ctx context.Context, actorID, userID string, role models.Role) (*models.MemberProfile, error)
	list        func(ctx context.Context, limit, offset int) ([]models.MemberProfile, int64, error)
	changes     func(ctx context.Context, userID string, limit int) ([]models.RoleChange, error)
}

func (f *fakeProfiles) GetOrCreate(ctx context.Context, userID, email string) (*models.MemberProfile, error) {
	return f.getOrCreate(ctx, userID, email)
}

func (f *fakeProfiles) Role(ctx context.Context, userID, email string) (models.Role, error) {
	p, err := f.getOrCreate(ctx, userID, email)
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

func (f *fakeProfiles) SetRole(ctx context.Context, actorID, userID string, role models.Role) (*models.MemberProfile, error) {
	return f.setRole(ctx, actorID, userID, role)
}

func (f *fakeProfiles) List(ctx context.Context, limit, offset int) ([]models.MemberProfile, int64, error) {
	return f.list(ctx, limit, offset)
}

func (f *fakeProfiles) RoleChanges(ctx context.Context, userID string, limit int) ([]models.RoleChange, error) {
	return f.changes(ctx, userID, limit)
}

// identity fakes what JWTAuth/LoadRole/SyncAuth leave on the context.
func identity(userID, email, role string, cron bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
			c.Set("email", email)
		}
		if role != "" {
			c.Set("role", role)
		}
		if cron {
			c.Set(middleware.CronAuthorized, true)
		}
		c.Next()
	}
}

func serve(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func report(mode string, results ...models.SyncResult) *services.SyncReport {
	return &services.SyncReport{RunID: "run-1", Mode: mode, Processed: len(results), Results: results}
}

func TestStartHandler(t *testing.T) {
	var gotRedirect string
	h := NewPatreonHandler(&fakeLink{start: func(_ context.Context, userID, redirectTo string) (string, error) {
		gotRedirect = redirectTo
		return "https://www.patreon.com/oauth2/authorize?state=s", nil
	}}, nil, "")

	r := gin.New()
	r.POST("/patreon/start", identity("u1", "", "", false), h.Start)

	w := serve(r, http.MethodPost, "/patreon/start", `{"redirectTo":"/promptly"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"url":"https://www.patreon.com/oauth2/authorize?state=s"`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if gotRedirect != "/promptly" {
		t.Fatalf("redirectTo = %q", gotRedirect)
	}

	if w := serve(r, http.MethodPost, "/patreon/start", ""); w.Code != http.StatusOK {
		t.Fatalf("empty body: status=%d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/patreon/start", "{"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad body: status=%d", w.Code)
	}

	anon := gin.New()
	anon.POST("/patreon/start", h.Start)
	if w := serve(anon, http.MethodPost, "/patreon/start", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status=%d", w.Code)
	}
}

func TestCallbackHandlerRedirects(t *testing.T) {
	var got services.CallbackInput
	h := NewPatreonHandler(&fakeLink{callback: func(_ context.Context, in services.CallbackInput) services.CallbackOutcome {
		got = in
		return services.CallbackOutcome{Status: services.OutcomeLinked, Role: models.RoleTester, RedirectTo: "/account"}
	}}, nil, "https://app.example")

	r := gin.New()
	r.GET("/patreon/callback", h.Callback)

	w := serve(r, http.MethodGet, "/patreon/callback?code=abc&state=s.t&error=", "")
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://app.example/account?patreon=linked&role=tester" {
		t.Fatalf("Location = %s", loc)
	}
	if got.Code != "abc" || got.State != "s.t" || got.ProviderError != "" {
		t.Fatalf("input = %+v", got)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("callback response must not be cached")
	}
}

func TestUnlinkHandler(t *testing.T) {
	h := NewPatreonHandler(&fakeLink{unlink: func(_ context.Context, userID, email string) (models.Role, error) {
		if userID == "missing" {
			return "", utils.E(utils.CodeNotFound, "op", "profile not found", nil)
		}
		if email != "fan@example.com" {
			t.Errorf("email = %q", email)
		}
		return models.RoleRegular, nil
	}}, nil, "")

	r := gin.New()
	r.POST("/ok", identity("u1", "fan@example.com", "", false), h.Unlink)
	r.POST("/missing", identity("missing", "fan@example.com", "", false), h.Unlink)

	w := serve(r, http.MethodPost, "/ok", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"success":true,"role":"regular"}` {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w = serve(r, http.MethodPost, "/missing", "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"code":"NOT_FOUND"`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestSyncHandlerModes(t *testing.T) {
	tier, status := "t1", models.StatusActivePatron
	ok := models.SyncResult{UserID: "u1", Status: models.SyncStatusOK, Role: models.RoleTester, TierID: &tier, PatreonStatus: &status}

	var lastBatch *services.BatchRequest
	var lastUser string
	fs := &fakeSync{
		user: func(_ context.Context, userID string) (*services.SyncReport, error) {
			lastUser = userID
			return report(models.SyncModeSingle, ok), nil
		},
		batch: func(_ context.Context, req services.BatchRequest) (*services.SyncReport, error) {
			lastBatch = &req
			return report(models.SyncModeCron, ok, models.SyncResult{UserID: "u2", Status: models.SyncStatusSkipped, Reason: "no refresh token"}), nil
		},
	}
	h := NewPatreonHandler(nil, fs, "")

	cases := []struct {
		name        string
		ident       gin.HandlerFunc
		body        string
		wantStatus  int
		wantMode    string
		wantTrigger string
		wantIDs     []string
		wantUser    string
	}{
		{"cron secret", identity("", "", "", true), "", http.StatusOK, "cron", services.TriggerCron, nil, ""},
		{"admin all", identity("a", "", "admin", false), `{"all":true}`, http.StatusOK, "cron", services.TriggerAdmin, nil, ""},
		{"admin targets", identity("a", "", "admin", false), `{"userIds":["u1","u2"]}`, http.StatusOK, "cron", services.TriggerAdmin, []string{"u1", "u2"}, ""},
		{"admin self", identity("a", "", "admin", false), "", http.StatusOK, "single", "", nil, "a"},
		{"user self", identity("u1", "", "regular", false), "", http.StatusOK, "single", "", nil, "u1"},
		{"user asking for all", identity("u1", "", "tester", false), `{"all":true}`, http.StatusForbidden, "", "", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lastBatch, lastUser = nil, ""
			r := gin.New()
			r.POST("/patreon/sync", tc.ident, h.Sync)

			w := serve(r, http.MethodPost, "/patreon/sync", tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			var resp struct {
				OK        bool              `json:"ok"`
				Mode      string            `json:"mode"`
				Processed int               `json:"processed"`
				Results   []json.RawMessage `json:"results"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if !resp.OK || resp.Mode != tc.wantMode || resp.Processed != len(resp.Results) {
				t.Fatalf("resp = %+v", resp)
			}
			if tc.wantMode == "cron" {
				if lastBatch == nil || lastBatch.Trigger != tc.wantTrigger || strings.Join(lastBatch.UserIDs, ",") != strings.Join(tc.wantIDs, ",") {
					t.Fatalf("batch = %+v", lastBatch)
				}
			} else if lastUser != tc.wantUser {
				t.Fatalf("synced user %q, want %q", lastUser, tc.wantUser)
			}
		})
	}
}

func TestSyncHandlerResultShape(t *testing.T) {
	tier, status := "t1", models.StatusActivePatron
	fs := &fakeSync{user: func(context.Context, string) (*services.SyncReport, error) {
		return report(models.SyncModeSingle, models.SyncResult{UserID: "u1", Status: models.SyncStatusOK, Role: models.RoleTester, TierID: &tier, PatreonStatus: &status}), nil
	}}
	r := gin.New()
	r.POST("/patreon/sync", identity("u1", "", "regular", false), NewPatreonHandler(nil, fs, "").Sync)

	w := serve(r, http.MethodPost, "/patreon/sync", "")
	want := `{"ok":true,"mode":"single","processed":1,"results":[{"userId":"u1","status":"ok","role":"tester","tierId":"t1","patreonStatus":"active_patron"}],"runId":"run-1"}`
	if w.Body.String() != want {
		t.Fatalf("body\n got %s\nwant %s", w.Body.String(), want)
	}
}

func TestProfileMe(t *testing.T) {
	email := "fan@example.com"
	rt := "secret-refresh-token"
	pid := "p-1"
	h := NewProfileHandler(&fakeProfiles{getOrCreate: func(_ context.Context, userID, e string) (*models.MemberProfile, error) {
		return &models.MemberProfile{UserID: userID, Email: &email, Role: models.RoleTester, PatreonUserID: &pid, PatreonRefreshToken: &rt}, nil
	}})
	r := gin.New()
	r.GET("/account/profile", identity("u1", email, "", false), h.Me)

	w := serve(r, http.MethodGet, "/account/profile", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, rt) {
		t.Fatal("refresh token leaked to the client")
	}
	if !strings.Contains(body, `"patreon_linked":true`) || !strings.Contains(body, `"role":"tester"`) {
		t.Fatalf("body = %s", body)
	}
}

func TestAdminHandlers(t *testing.T) {
	fp := &fakeProfiles{
		list: func(_ context.Context, limit, offset int) ([]models.MemberProfile, int64, error) {
			if limit != 10 || offset != 5 {
				t.Errorf("paging = %d/%d", limit, offset)
			}
			return []models.MemberProfile{{UserID: "u1", Role: models.RoleRegular}}, 6, nil
		},
		setRole: func(_ context.Context, actorID, userID string, role models.Role) (*models.MemberProfile, error) {
			if actorID != "admin-1" || userID != "u1" {
				t.Errorf("actor=%s user=%s", actorID, userID)
			}
			return &models.MemberProfile{UserID: userID, Role: role}, nil
		},
		changes: func(context.Context, string, int) ([]models.RoleChange, error) { return nil, nil },
	}
	fs := &fakeSync{runs: func(context.Context, int64) ([]models.SyncRun, error) {
		return []models.SyncRun{{RunID: "r1", Mode: "cron"}}, nil
	}}
	h := NewAdminHandler(fp, fs)

	r := gin.New()
	admin := r.Group("/admin", identity("admin-1", "", "admin", false))
	admin.GET("/users", h.ListUsers)
	admin.PATCH("/users/:user_id/role", h.SetRole)
	admin.GET("/users/:user_id/role-changes", h.RoleChanges)
	admin.GET("/patreon/sync-runs", h.SyncRuns)

	if w := serve(r, http.MethodGet, "/admin/users?limit=10&offset=5", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total":6`) {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodPatch, "/admin/users/u1/role", `{"role":"Tester"}`); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"role":"tester"`) {
		t.Fatalf("set role: %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodPatch, "/admin/users/u1/role", `{"role":"owner"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid role: %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/admin/users/u1/role-changes", ""); w.Code != http.StatusOK || w.Body.String() != `{"changes":[]}` {
		t.Fatalf("changes: %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/admin/patreon/sync-runs", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"run_id":"r1"`) {
		t.Fatalf("runs: %d %s", w.Code, w.Body.String())
	}
}

func TestSyncWSStreamsResults(t *testing.T) {
	fs := &fakeSync{batch: func(_ context.Context, req services.BatchRequest) (*services.SyncReport, error) {
		if req.Trigger != services.TriggerWebSocket {
			t.Errorf("trigger = %s", req.Trigger)
		}
		results := []models.SyncResult{
			{UserID: "u1", Status: models.SyncStatusOK, Role: models.RoleRegular},
			{UserID: "u2", Status: models.SyncStatusError, Error: "boom"},
		}
		for _, r := range results {
			req.OnResult(r)
		}
		return report(models.SyncModeCron, results...), nil
	}}
	h := NewWSHandler(fs, "", logger.Discard())

	r := gin.New()
	r.GET("/ws", identity("admin-1", "", "admin", false), h.SyncWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var types []string
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		types = append(types, msg.Type)
		if msg.Type == "complete" {
			break
		}
	}
	if got := strings.Join(types, ","); got != "started,result,result,complete" {
		t.Fatalf("messages = %s", got)
	}
}

func TestSyncWSKeepsSlowBatchAlive(t *testing.T) {
	fs := &fakeSync{batch: func(_ context.Context, req services.BatchRequest) (*services.SyncReport, error) {
		results := []models.SyncResult{
			{UserID: "u1", Status: models.SyncStatusOK, Role: models.RoleRegular},
			{UserID: "u2", Status: models.SyncStatusOK, Role: models.RoleTester},
		}
		for _, r := range results {
			// each gap outlasts the read deadline several times over
			time.Sleep(400 * time.Millisecond)
			req.OnResult(r)
		}
		return report(models.SyncModeCron, results...), nil
	}}
	h := NewWSHandler(fs, "", logger.Discard())
	h.pongWait = 150 * time.Millisecond
	h.pingPeriod = 50 * time.Millisecond

	r := gin.New()
	r.GET("/ws", identity("admin-1", "", "admin", false), h.SyncWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var types []string
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		types = append(types, msg.Type)
		if msg.Type == "complete" {
			break
		}
	}
	if got := strings.Join(types, ","); got != "started,result,result,complete" {
		t.Fatalf("messages = %s", got)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker("https://app.example/")
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !check(req) {
		t.Fatal("no Origin header should pass")
	}
	req.Header.Set("Origin", "https://app.example")
	if !check(req) {
		t.Fatal("configured origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatal("foreign origin accepted")
	}
}
