package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"blogsy/database"
	"blogsy/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	oauthStateCookie  = "oauthState"
)

var googleOAuthConfig *oauth2.Config

// validateGoogleToken is swapped in tests.
var validateGoogleToken = idtoken.Validate

func initGoogleOAuth() {
	googleOAuthConfig = nil
	if cfg == nil || cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		logger.Info("google oauth not configured")
		return
	}
	googleOAuthConfig = &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
	logger.Info("google oauth configured")
}

type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type GoogleAuthRequest struct {
	Credential string `json:"credential" binding:"required"`
}

func GetGoogleAuthURL(c *gin.Context) {
	if googleOAuthConfig == nil {
		respondError(c, http.StatusServiceUnavailable, "Google OAuth not configured")
		return
	}

	state := primitive.NewObjectID().Hex()
	c.SetCookie(oauthStateCookie, state, 600, "/api/auth/google", "", cfg.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"url": googleOAuthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline)})
}

func GoogleOAuthCallback(c *gin.Context) {
	if googleOAuthConfig == nil {
		respondError(c, http.StatusServiceUnavailable, "Google OAuth not configured")
		return
	}

	code := c.Query("code")
	if code == "" {
		respondError(c, http.StatusBadRequest, "Authorization code missing")
		return
	}
	if expected, err := c.Cookie(oauthStateCookie); err == nil && expected != c.Query("state") {
		respondError(c, http.StatusBadRequest, "Invalid OAuth state")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	token, err := googleOAuthConfig.Exchange(ctx, code)
	if err != nil {
		logger.Warn("google token exchange failed", zap.Error(err))
		respondError(c, http.StatusUnauthorized, "Failed to exchange authorization code")
		return
	}

	info, err := fetchGoogleUserInfo(ctx, googleOAuthConfig.Client(ctx, token))
	if err != nil {
		logger.Error("google userinfo failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, "Failed to get user information")
		return
	}

	handleGoogleUser(c, ctx, info)
}

func fetchGoogleUserInfo(ctx context.Context, client *http.Client) (GoogleUserInfo, error) {
	var info GoogleUserInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserInfoURL, nil)
	if err != nil {
		return info, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("userinfo returned %s", resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(&info)
	return info, err
}

// GoogleAuthWithCredential signs in with an ID token from Google Identity Services.
func GoogleAuthWithCredential(c *gin.Context) {
	if cfg == nil || cfg.GoogleClientID == "" {
		respondError(c, http.StatusServiceUnavailable, "Google sign-in not configured")
		return
	}

	var req GoogleAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Google credential is required")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	payload, err := validateGoogleToken(ctx, req.Credential, cfg.GoogleClientID)
	if err != nil {
		logger.Warn("google credential rejected", zap.Error(err))
		respondError(c, http.StatusUnauthorized, "Invalid Google credential")
		return
	}

	info := GoogleUserInfo{
		ID:      payload.Subject,
		Email:   stringClaim(payload.Claims, "email"),
		Name:    stringClaim(payload.Claims, "name"),
		Picture: stringClaim(payload.Claims, "picture"),
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok {
		info.VerifiedEmail = verified
	}

	handleGoogleUser(c, ctx, info)
}

func stringClaim(claims map[string]interface{}, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

// handleGoogleUser finds or creates the account for a Google identity and starts a session.
func handleGoogleUser(c *gin.Context, ctx context.Context, info GoogleUserInfo) {
	email := strings.ToLower(strings.TrimSpace(info.Email))
	if email == "" {
		respondError(c, http.StatusBadRequest, "Email not provided by Google")
		return
	}
	// an unverified Google email must never claim an account by address
	if !info.VerifiedEmail {
		logger.Warn("google email not verified", zap.String("google_id", info.ID))
		respondError(c, http.StatusForbidden, "Google account email is not verified")
		return
	}

	var user models.User
	err := database.Users.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	switch {
	case database.IsNotFound(err):
		user, err = createGoogleUser(ctx, email, info)
		if err != nil {
			logger.Error("failed to create google user", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "Failed to create user account")
			return
		}
		logger.Info("google user created", zap.String("user_id", user.ID.Hex()))
		issueSession(c, ctx, &user, http.StatusCreated, "Account created with Google")
		return

	case err != nil:
		logger.Error("google user lookup failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	set := bson.M{"isVerified": true}
	if user.GoogleID == "" && info.ID != "" {
		set["googleId"] = info.ID
		user.GoogleID = info.ID
	}
	if (user.Avatar == "" || user.Avatar == fallbackAvatar) && info.Picture != "" {
		set["avatar"] = info.Picture
		user.Avatar = info.Picture
	}
	if _, err := database.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": set}); err != nil {
		logger.Warn("failed to update google user", zap.Error(err))
	}
	user.IsVerified = true

	issueSession(c, ctx, &user, http.StatusOK, "Login successful")
}

func createGoogleUser(ctx context.Context, email string, info GoogleUserInfo) (models.User, error) {
	name := strings.TrimSpace(info.Name)
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		username := usernameFromEmail(email)
		if name == "" {
			name = username
		}
		user := models.NewUser(username, email, name)
		user.AuthProvider = models.ProviderGoogle
		user.GoogleID = info.ID
		user.IsVerified = true
		user.Avatar = info.Picture
		if user.Avatar == "" {
			user.Avatar = fallbackAvatar
		}

		_, err := database.Users.InsertOne(ctx, user)
		if err == nil {
			return user, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return models.User{}, err
		}
		// a concurrent sign-in may have created the same email
		var existing models.User
		if database.Users.FindOne(ctx, bson.M{"email": email}).Decode(&existing) == nil {
			return existing, nil
		}
		lastErr = err
	}
	return models.User{}, lastErr
}

// usernameFromEmail derives a username from the local part plus a random suffix.
func usernameFromEmail(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if len(base) > 20 {
		base = base[:20]
	}
	if base == "" {
		base = "user"
	}
	return base + "_" + primitive.NewObjectID().Hex()[18:]
}
