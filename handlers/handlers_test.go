package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blogsy/ai"
	"blogsy/config"
	"blogsy/middleware"
	"blogsy/models"
	"blogsy/storage"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		ClientURL:        "http://localhost:3000",
		PublicURL:        "http://localhost:5000",
		MaxLoginAttempts: 5,
		LockDuration:     2 * time.Hour,
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		UploadDir:        "./uploads",
	}
}

// setupHandlers installs test dependencies and returns the token manager.
func setupHandlers(t *testing.T, d Dependencies) *middleware.TokenManager {
	t.Helper()
	if d.Config == nil {
		d.Config = testConfig()
	}
	if d.Tokens == nil {
		d.Tokens = middleware.NewTokenManager("access-secret", "refresh-secret", d.Config.AccessTokenTTL, d.Config.RefreshTokenTTL)
	}
	d.Logger = zap.NewNop()
	Setup(d)
	t.Cleanup(func() { Setup(Dependencies{Config: testConfig()}) })
	return d.Tokens
}

func testRouter(tm *middleware.TokenManager) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler(zap.NewNop()))

	auth := middleware.JWTAuthMiddleware(tm)
	optional := middleware.OptionalAuth(tm)

	r.POST("/api/auth/register", Register)
	r.POST("/api/auth/login", Login)
	r.POST("/api/auth/refresh", RefreshToken)
	r.POST("/api/auth/logout", Logout)
	r.GET("/api/auth/me", auth, GetMe)
	r.POST("/api/auth/forgot-password", ForgotPassword)
	r.POST("/api/auth/reset-password/:token", ResetPassword)
	r.PUT("/api/auth/change-password", auth, ChangePassword)
	r.POST("/api/auth/google", GoogleAuthWithCredential)

	r.GET("/api/blogs", optional, GetBlogs)
	r.POST("/api/blogs", auth, CreateBlog)
	r.GET("/api/blogs/:id", optional, GetBlog)
	r.DELETE("/api/blogs/:id", auth, DeleteBlog)
	r.POST("/api/blogs/:id/like", auth, LikeBlog)
	r.POST("/api/blogs/:id/comments", auth, AddComment)
	r.DELETE("/api/blogs/:id/comments/:commentId", auth, DeleteComment)
	r.POST("/api/blogs/:id/comments/:commentId/replies", auth, AddReply)
	r.POST("/api/blogs/:id/comments/:commentId/reactions", auth, ReactToComment)

	r.GET("/api/users/favourites", auth, GetFavourites)
	r.POST("/api/users/favourites/:blogId", auth, AddFavourite)
	r.DELETE("/api/users/favourites/:blogId", auth, RemoveFavourite)
	r.GET("/api/users/:id", optional, GetUserProfile)
	r.POST("/api/users/:id/follow", auth, FollowUser)
	r.DELETE("/api/users/:id/follow", auth, UnfollowUser)

	r.POST("/api/upload", auth, UploadImage)
	r.POST("/api/ai/generate", auth, GenerateAI)
	r.GET("/api/notifications/vapid-public-key", GetVapidPublicKey)

	r.NoRoute(NotFound)
	return r
}

func perform(r http.Handler, method, path string, body interface{}, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unexpected decode error: %v (body %q)", err, w.Body.String())
	}
	return out
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestFailedLoginUpdate(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	cases := []struct {
		title      string
		attempts   int
		lockUntil  *time.Time
		expLocked  bool
		expAttempt interface{}
		expUnset   bool
	}{
		{"first failure", 0, nil, false, 1, false},
		{"below threshold", 3, nil, false, 4, false},
		{"reaches threshold", 4, nil, true, 5, false},
		{"expired lock restarts count", 5, &past, false, 1, true},
	}

	for _, c := range cases {
		u := models.User{LoginAttempts: c.attempts, LockUntil: c.lockUntil}
		update, locked := failedLoginUpdate(&u, now, 5, 2*time.Hour)
		if locked != c.expLocked {
			t.Errorf("[%s] Expected locked: %v, got: %v", c.title, c.expLocked, locked)
		}
		set, _ := update["$set"].(bson.M)
		if set["loginAttempts"] != c.expAttempt {
			t.Errorf("[%s] Expected attempts: %v, got: %v", c.title, c.expAttempt, set["loginAttempts"])
		}
		_, unset := update["$unset"]
		if unset != c.expUnset {
			t.Errorf("[%s] Expected unset lockUntil: %v, got: %v", c.title, c.expUnset, unset)
		}
		if c.expLocked {
			until, _ := set["lockUntil"].(time.Time)
			if !until.Equal(now.Add(2 * time.Hour)) {
				t.Errorf("[%s] Expected lockUntil: %v, got: %v", c.title, now.Add(2*time.Hour), until)
			}
		}
	}
}

func TestPasswordByteLimit(t *testing.T) {
	tm := setupHandlers(t, Dependencies{})
	r := testRouter(tm)
	pair, _ := tm.IssuePair(primitive.NewObjectID().Hex())

	// 40 runes but 80 bytes
	accented := strings.Repeat("é", 40)
	if !passwordFits(strings.Repeat("a", 72)) || passwordFits(accented) {
		t.Errorf("Expected: 72 ASCII bytes to fit and %d bytes to be rejected", len(accented))
	}

	cases := []struct {
		title  string
		method string
		path   string
		body   gin.H
		token  string
	}{
		{"register", http.MethodPost, "/api/auth/register", gin.H{"username": "amelie", "email": "amelie@example.com", "password": accented}, ""},
		{"reset", http.MethodPost, "/api/auth/reset-password/abc", gin.H{"password": accented}, ""},
		{"change", http.MethodPut, "/api/auth/change-password", gin.H{"currentPassword": "secret1", "newPassword": accented}, pair.AccessToken},
	}
	for _, c := range cases {
		w := perform(r, c.method, c.path, c.body, c.token)
		if w.Code != http.StatusBadRequest {
			t.Errorf("[%s] Expected: 400, got: %d %s", c.title, w.Code, w.Body.String())
			continue
		}
		if msg := decode(t, w)["message"]; msg != passwordTooLong {
			t.Errorf("[%s] Expected: %v, got: %v", c.title, passwordTooLong, msg)
		}
	}
}

func TestOneTimeToken(t *testing.T) {
	raw, hashed, err := newOneTimeToken()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(raw) != 64 {
		t.Errorf("Expected: 64 hex chars, got: %d", len(raw))
	}
	if hashed == raw || hashed != hashToken(raw) {
		t.Error("Expected the stored value to be the hash of the raw token")
	}

	other, _, _ := newOneTimeToken()
	if other == raw {
		t.Error("Expected two tokens to differ")
	}
}

func TestUsernameFromEmail(t *testing.T) {
	cases := []struct {
		title  string
		email  string
		prefix string
	}{
		{"dots removed", "jane.doe@example.com", "janedoe_"},
		{"plus tag removed", "Bob+news@example.com", "bobnews_"},
		{"symbols only", "...@example.com", "user_"},
		{"long local part", "abcdefghijklmnopqrstuvwxyz@example.com", "abcdefghijklmnopqrst_"},
	}
	for _, c := range cases {
		got := usernameFromEmail(c.email)
		if !strings.HasPrefix(got, c.prefix) || len(got) != len(c.prefix)+6 {
			t.Errorf("[%s] Expected: %s + 6 chars, got: %v", c.title, c.prefix, got)
		}
		if !usernamePattern.MatchString(got) {
			t.Errorf("[%s] Expected a valid username, got: %v", c.title, got)
		}
	}
}

func TestBlogValidation(t *testing.T) {
	if _, msg := validateTitle("   "); msg == "" {
		t.Error("Expected blank title to be rejected")
	}
	if _, msg := validateTitle(strings.Repeat("a", 201)); msg == "" {
		t.Error("Expected long title to be rejected")
	}
	if title, msg := validateTitle("  Hello  "); msg != "" || title != "Hello" {
		t.Errorf("Expected: Hello, got: %q (%s)", title, msg)
	}

	contentCases := []struct {
		title string
		raw   string
		ok    bool
	}{
		{"too short", "short", false},
		{"short after trim", "   nineteen chars!!   ", false},
		{"exactly twenty", "twenty characters!!!", true},
		{"script stripped", "<p>Long enough paragraph</p><script>alert(1)</script>", true},
	}
	for _, c := range contentCases {
		cleaned, msg := prepareContent(c.raw)
		if (msg == "") != c.ok {
			t.Errorf("[%s] Expected ok: %v, got message: %q", c.title, c.ok, msg)
		}
		if strings.Contains(cleaned, "<script") {
			t.Errorf("[%s] Expected script to be removed, got: %v", c.title, cleaned)
		}
	}

	statusCases := []struct {
		in, exp string
		ok      bool
	}{
		{"", models.StatusPublished, true},
		{"draft", models.StatusDraft, true},
		{"published", models.StatusPublished, true},
		{"archived", "", false},
	}
	for _, c := range statusCases {
		got, msg := validateStatus(c.in)
		if got != c.exp || (msg == "") != c.ok {
			t.Errorf("[%s] Expected: %q, got: %q (%s)", c.in, c.exp, got, msg)
		}
	}
}

func TestCommentTextValidation(t *testing.T) {
	cases := []struct {
		title string
		text  string
		exp   string
		ok    bool
	}{
		{"blank", "   ", "", false},
		{"trimmed", "  hi  ", "hi", true},
		{"at limit", strings.Repeat("é", 1000), strings.Repeat("é", 1000), true},
		{"over limit", strings.Repeat("a", 1001), "", false},
	}
	for _, c := range cases {
		got, msg := validateCommentText(c.text)
		if got != c.exp || (msg == "") != c.ok {
			t.Errorf("[%s] Expected: %q ok=%v, got: %q (%s)", c.title, c.exp, c.ok, got, msg)
		}
	}
}

func TestPagination(t *testing.T) {
	cases := []struct {
		query     string
		page, lim int64
	}{
		{"", 1, 10},
		{"?page=3&limit=20", 3, 20},
		{"?page=0&limit=-4", 1, 10},
		{"?page=abc&limit=500", 1, 50},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		ctx, _ := gin.CreateTestContext(w)
		ctx.Request = httptest.NewRequest(http.MethodGet, "/api/blogs"+c.query, nil)
		page, limit := pagination(ctx)
		if page != c.page || limit != c.lim {
			t.Errorf("[%s] Expected: %d/%d, got: %d/%d", c.query, c.page, c.lim, page, limit)
		}
	}

	if totalPages(0, 10) != 0 || totalPages(21, 10) != 3 || totalPages(20, 10) != 2 {
		t.Error("Expected totalPages to round up")
	}
}

func TestBlogFilterAndSort(t *testing.T) {
	id := primitive.NewObjectID()
	hexSlug, _ := primitive.ObjectIDFromHex("deadbeefdeadbeefdeadbeef")

	filters := []struct {
		title string
		param string
		id    *primitive.ObjectID
		slug  string
	}{
		{"object id", id.Hex(), &id, id.Hex()},
		{"hex slug", "deadbeefdeadbeefdeadbeef", &hexSlug, "deadbeefdeadbeefdeadbeef"},
		{"plain slug", "My-Post", nil, "my-post"},
	}
	for _, c := range filters {
		f := blogFilter(c.param)
		if c.id == nil {
			if f["slug"] != c.slug {
				t.Errorf("[%s] Expected: slug %v, got: %v", c.title, c.slug, f)
			}
			continue
		}
		or, ok := f["$or"].([]bson.M)
		if !ok || len(or) != 2 {
			t.Errorf("[%s] Expected: $or of id and slug, got: %v", c.title, f)
			continue
		}
		if or[0]["_id"] != *c.id || or[1]["slug"] != c.slug {
			t.Errorf("[%s] Expected: %v or %v, got: %v", c.title, *c.id, c.slug, or)
		}
	}

	cases := []struct {
		sort  string
		first string
	}{
		{"latest", "createdAt"},
		{"", "createdAt"},
		{"popular", "likesCount"},
		{"views", "views"},
	}
	for _, c := range cases {
		if got := sortFor(c.sort)[0].Key; got != c.first {
			t.Errorf("[%s] Expected: %v, got: %v", c.sort, c.first, got)
		}
	}
}

func TestNotFoundAndErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(zap.NewNop()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/teapot", func(c *gin.Context) { _ = c.Error(NewAPIError(http.StatusTeapot, "short and stout")) })
	r.GET("/plain", func(c *gin.Context) { _ = c.Error(errors.New("hidden detail")) })
	r.NoRoute(NotFound)

	cases := []struct {
		path    string
		status  int
		message string
	}{
		{"/missing", http.StatusNotFound, "Not Found - /missing"},
		{"/panic", http.StatusInternalServerError, "Internal Server Error"},
		{"/teapot", http.StatusTeapot, "short and stout"},
		{"/plain", http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, c := range cases {
		w := perform(r, http.MethodGet, c.path, nil, "")
		if w.Code != c.status {
			t.Errorf("[%s] Expected: %d, got: %d", c.path, c.status, w.Code)
			continue
		}
		if msg := decode(t, w)["message"]; msg != c.message {
			t.Errorf("[%s] Expected: %v, got: %v", c.path, c.message, msg)
		}
	}
}

func TestDuplicateKeyAnswers400(t *testing.T) {
	duplicate := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}

	r := gin.New()
	r.Use(ErrorHandler(zap.NewNop()))
	r.PUT("/duplicate", func(c *gin.Context) { _ = c.Error(duplicateAs(duplicate, "Username is already taken")) })
	r.PUT("/other", func(c *gin.Context) { _ = c.Error(duplicateAs(errors.New("socket closed"), "Username is already taken")) })

	cases := []struct {
		path    string
		status  int
		message string
	}{
		{"/duplicate", http.StatusBadRequest, "Username is already taken"},
		{"/other", http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, c := range cases {
		w := perform(r, http.MethodPut, c.path, nil, "")
		if w.Code != c.status {
			t.Errorf("[%s] Expected: %d, got: %d", c.path, c.status, w.Code)
			continue
		}
		if msg := decode(t, w)["message"]; msg != c.message {
			t.Errorf("[%s] Expected: %v, got: %v", c.path, c.message, msg)
		}
	}
}

func TestRefreshCookieAttributes(t *testing.T) {
	cases := []struct {
		title    string
		secure   bool
		sameSite http.SameSite
	}{
		{"development", false, http.SameSiteLaxMode},
		{"production", true, http.SameSiteNoneMode},
	}
	for _, c := range cases {
		conf := testConfig()
		conf.CookieSecure = c.secure
		tm := setupHandlers(t, Dependencies{Config: conf})
		pair, _ := tm.IssuePair(primitive.NewObjectID().Hex())

		w := httptest.NewRecorder()
		ctx, _ := gin.CreateTestContext(w)
		ctx.Request = httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		setRefreshCookie(ctx, pair)

		cookie := cookieNamed(w, refreshCookie)
		if cookie == nil {
			t.Fatalf("[%s] Expected refresh cookie to be set", c.title)
		}
		if !cookie.HttpOnly || cookie.Path != refreshCookiePath {
			t.Errorf("[%s] Expected httpOnly cookie on %s, got: %+v", c.title, refreshCookiePath, cookie)
		}
		if cookie.Secure != c.secure || cookie.SameSite != c.sameSite {
			t.Errorf("[%s] Expected secure=%v sameSite=%v, got: %v %v", c.title, c.secure, c.sameSite, cookie.Secure, cookie.SameSite)
		}
		if cookie.MaxAge < int((7*24*time.Hour).Seconds())-5 {
			t.Errorf("[%s] Expected max age of the refresh TTL, got: %d", c.title, cookie.MaxAge)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	tm := setupHandlers(t, Dependencies{})
	r := testRouter(tm)

	paths := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPost, "/api/blogs"},
		{http.MethodPost, "/api/upload"},
		{http.MethodPost, "/api/ai/generate"},
		{http.MethodPost, "/api/users/" + primitive.NewObjectID().Hex() + "/follow"},
	}
	for _, p := range paths {
		w := perform(r, p.method, p.path, nil, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("[%s %s] Expected: 401, got: %d", p.method, p.path, w.Code)
		}
	}

	refresh, _ := tm.IssuePair(primitive.NewObjectID().Hex())
	if w := perform(r, http.MethodGet, "/api/auth/me", nil, refresh.RefreshToken); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected: refresh token rejected as access token, got: %d", w.Code)
	}
}

func TestRefreshWithoutToken(t *testing.T) {
	tm := setupHandlers(t, Dependencies{})
	r := testRouter(tm)

	if w := perform(r, http.MethodPost, "/api/auth/refresh", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected: 401, got: %d", w.Code)
	}

	bad := &http.Cookie{Name: refreshCookie, Value: "not-a-jwt"}
	if w := perform(r, http.MethodPost, "/api/auth/refresh", nil, "", bad); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected: 401 for garbage token, got: %d", w.Code)
	}
}

func TestLogoutWithoutSession(t *testing.T) {
	tm := setupHandlers(t, Dependencies{})
	r := testRouter(tm)

	w := perform(r, http.MethodPost, "/api/auth/logout", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected: 200, got: %d", w.Code)
	}
	if c := cookieNamed(w, refreshCookie); c == nil || c.MaxAge >= 0 {
		t.Errorf("Expected the refresh cookie to be cleared, got: %+v", c)
	}
}

func TestGoogleNotConfigured(t *testing.T) {
	tm := setupHandlers(t, Dependencies{})
	r := testRouter(tm)

	w := perform(r, http.MethodPost, "/api/auth/google", gin.H{"credential": "x"}, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected: 503, got: %d", w.Code)
	}
	if googleOAuthConfig != nil {
		t.Error("Expected OAuth config to stay nil without credentials")
	}
}

// stubGoogleToken makes validateGoogleToken accept any credential as the given identity.
func stubGoogleToken(t *testing.T, subject, email string, verified bool) {
	t.Helper()
	orig := validateGoogleToken
	validateGoogleToken = func(_ context.Context, _, _ string) (*idtoken.Payload, error) {
		return &idtoken.Payload{
			Subject: subject,
			Claims: map[string]interface{}{
				"email":          email,
				"email_verified": verified,
				"name":           "Google User",
			},
		}, nil
	}
	t.Cleanup(func() { validateGoogleToken = orig })
}

func TestGoogleCredentialRequiresVerifiedEmail(t *testing.T) {
	conf := testConfig()
	conf.GoogleClientID = "client-id"
	tm := setupHandlers(t, Dependencies{Config: conf})
	r := testRouter(tm)

	stubGoogleToken(t, "google-sub", "victim@example.com", false)
	w := perform(r, http.MethodPost, "/api/auth/google", gin.H{"credential": "token"}, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected: 403 for an unverified email, got: %d %s", w.Code, w.Body.String())
	}
	if cookieNamed(w, refreshCookie) != nil {
		t.Error("Expected no session for an unverified email")
	}
}

func TestVapidKeyEndpoint(t *testing.T) {
	tm := setupHandlers(t, Dependencies{})
	r := testRouter(tm)
	if w := perform(r, http.MethodGet, "/api/notifications/vapid-public-key", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected: 503 without keys, got: %d", w.Code)
	}

	conf := testConfig()
	conf.VAPIDPublicKey, conf.VAPIDPrivateKey = "pub", "priv"
	tm = setupHandlers(t, Dependencies{Config: conf})
	r = testRouter(tm)
	w := perform(r, http.MethodGet, "/api/notifications/vapid-public-key", nil, "")
	if w.Code != http.StatusOK || decode(t, w)["publicKey"] != "pub" {
		t.Errorf("Expected: 200 with key, got: %d %s", w.Code, w.Body.String())
	}
}

type fakeGenerator struct {
	result string
	err    error
	got    ai.Request
	left   time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, req ai.Request) (string, error) {
	f.got = req
	if deadline, ok := ctx.Deadline(); ok {
		f.left = time.Until(deadline)
	}
	return f.result, f.err
}

func TestGenerateAI(t *testing.T) {
	userToken := func(tm *middleware.TokenManager) string {
		pair, _ := tm.IssuePair(primitive.NewObjectID().Hex())
		return pair.AccessToken
	}

	tm := setupHandlers(t, Dependencies{})
	r := testRouter(tm)
	if w := perform(r, http.MethodPost, "/api/ai/generate", gin.H{"prompt": "hi"}, userToken(tm)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected: 503 when not configured, got: %d", w.Code)
	}

	gen := &fakeGenerator{result: "A fine paragraph."}
	tm = setupHandlers(t, Dependencies{AI: gen})
	r = testRouter(tm)
	token := userToken(tm)

	cases := []struct {
		title  string
		body   gin.H
		status int
	}{
		{"missing prompt", gin.H{"prompt": "   "}, http.StatusBadRequest},
		{"long prompt", gin.H{"prompt": strings.Repeat("a", ai.MaxPromptLength+1)}, http.StatusBadRequest},
		{"long context", gin.H{"prompt": "x", "context": strings.Repeat("a", ai.MaxContextLength+1)}, http.StatusBadRequest},
		{"unknown action", gin.H{"prompt": "x", "action": "translate"}, http.StatusBadRequest},
		{"default action", gin.H{"prompt": "write about go"}, http.StatusOK},
		{"summarize", gin.H{"prompt": "text", "action": "Summarize"}, http.StatusOK},
	}
	for _, c := range cases {
		w := perform(r, http.MethodPost, "/api/ai/generate", c.body, token)
		if w.Code != c.status {
			t.Errorf("[%s] Expected: %d, got: %d", c.title, c.status, w.Code)
		}
	}
	if gen.got.Action != ai.ActionSummarize {
		t.Errorf("Expected: last action %v, got: %v", ai.ActionSummarize, gen.got.Action)
	}

	gen.err = errors.New("quota exceeded")
	w := perform(r, http.MethodPost, "/api/ai/generate", gin.H{"prompt": "x"}, token)
	if w.Code != http.StatusBadGateway || decode(t, w)["message"] != "AI service error" {
		t.Errorf("Expected: 502 AI service error, got: %d %s", w.Code, w.Body.String())
	}
}

func TestAIDeadlineFitsWriteTimeout(t *testing.T) {
	cases := []struct {
		title        string
		writeTimeout time.Duration
		exp          time.Duration
	}{
		{"unset", 0, aiTimeout},
		{"tight server", 15 * time.Second, 10 * time.Second},
		{"roomy server", 75 * time.Second, aiTimeout},
		{"below margin", 3 * time.Second, aiTimeout},
	}
	for _, c := range cases {
		conf := testConfig()
		conf.WriteTimeout = c.writeTimeout
		setupHandlers(t, Dependencies{Config: conf})
		if got := aiDeadline(); got != c.exp {
			t.Errorf("[%s] Expected: %v, got: %v", c.title, c.exp, got)
		}
	}

	conf := testConfig()
	conf.WriteTimeout = 15 * time.Second
	gen := &fakeGenerator{result: "ok"}
	tm := setupHandlers(t, Dependencies{Config: conf, AI: gen})
	pair, _ := tm.IssuePair(primitive.NewObjectID().Hex())
	if w := perform(testRouter(tm), http.MethodPost, "/api/ai/generate", gin.H{"prompt": "x"}, pair.AccessToken); w.Code != http.StatusOK {
		t.Fatalf("Expected: 200, got: %d", w.Code)
	}
	if gen.left <= 0 || gen.left > 10*time.Second {
		t.Errorf("Expected: model deadline within 10s, got: %v", gen.left)
	}
}

type recordingUploader struct {
	file storage.File
}

func (u *recordingUploader) Name() string { return "memory" }

func (u *recordingUploader) Upload(_ context.Context, f storage.File) (storage.Result, error) {
	u.file = f
	return storage.Result{URL: "https://cdn.test/" + f.Filename, Provider: "memory"}, nil
}

func multipartImage(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	fw.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	up := &recordingUploader{}
	tm := setupHandlers(t, Dependencies{Uploader: up})
	r := testRouter(tm)
	pair, _ := tm.IssuePair(primitive.NewObjectID().Hex())

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	oversize := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, maxImageSize)...)

	cases := []struct {
		title    string
		field    string
		data     []byte
		status   int
		provider string
	}{
		{"png accepted", "image", png, http.StatusCreated, "memory"},
		{"text rejected", "image", []byte("just some text"), http.StatusBadRequest, ""},
		{"wrong field", "file", png, http.StatusBadRequest, ""},
		{"too large", "image", oversize, http.StatusBadRequest, ""},
	}
	for _, c := range cases {
		body, contentType := multipartImage(t, c.field, "pic.png", c.data)
		req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != c.status {
			t.Errorf("[%s] Expected: %d, got: %d (%s)", c.title, c.status, w.Code, w.Body.String())
			continue
		}
		if c.provider != "" && decode(t, w)["provider"] != c.provider {
			t.Errorf("[%s] Expected: %v, got: %v", c.title, c.provider, w.Body.String())
		}
	}
	if up.file.ContentType != "image/png" {
		t.Errorf("Expected: sniffed image/png, got: %v", up.file.ContentType)
	}
}
