package handlers

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
	"time"

	"blogsy/database"
	"blogsy/mailer"
	"blogsy/middleware"
	"blogsy/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	refreshCookie       = "refreshToken"
	refreshCookiePath   = "/api/auth"
	verificationTTL     = 24 * time.Hour
	passwordResetTTL    = time.Hour
	lockedMessage       = "Account locked due to too many failed login attempts. Try again later."
	invalidCredentials  = "Invalid credentials"
	forgotPasswordReply = "If an account with that email exists, a reset link has been sent"
	// bcrypt rejects longer input.
	maxPasswordBytes = 72
	passwordTooLong  = "Password must be at most 72 bytes"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=30"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"max=60"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6"`
}

func Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Please provide a username (3-30 characters), a valid email and a password of at least 6 characters")
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !usernamePattern.MatchString(username) {
		respondError(c, http.StatusBadRequest, "Username may only contain letters, numbers and underscores")
		return
	}
	if !passwordFits(req.Password) {
		respondError(c, http.StatusBadRequest, passwordTooLong)
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	var existing models.User
	err := database.Users.FindOne(ctx, bson.M{"$or": []bson.M{{"email": email}, {"username": username}}}).Decode(&existing)
	if err == nil {
		respondError(c, http.StatusBadRequest, "User already exists")
		return
	}
	if !database.IsNotFound(err) {
		logger.Error("register lookup failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = username
	}
	user := models.NewUser(username, email, name)
	user.PasswordHash = string(hashed)

	rawVerify, hashedVerify, err := newOneTimeToken()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to generate verification token")
		return
	}
	verifyExp := time.Now().UTC().Add(verificationTTL)
	user.EmailVerificationToken = hashedVerify
	user.EmailVerificationExpires = &verifyExp

	pair, err := tokens.IssuePair(user.ID.Hex())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	user.RefreshToken = pair.RefreshToken

	if _, err := database.Users.InsertOne(ctx, user); err != nil {
		_ = c.Error(duplicateAs(err, "User already exists"))
		return
	}

	sendMailAsync(mailer.VerificationEmail(user.Name, user.Email, cfg.ClientURL+"/verify-email/"+rawVerify))

	setRefreshCookie(c, pair)
	c.JSON(http.StatusCreated, gin.H{
		"message":     "User registered successfully",
		"accessToken": pair.AccessToken,
		"user":        user,
	})
}

func Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	var user models.User
	err := database.Users.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(req.Email))}).Decode(&user)
	if database.IsNotFound(err) {
		respondError(c, http.StatusUnauthorized, invalidCredentials)
		return
	}
	if err != nil {
		logger.Error("login lookup failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	now := time.Now().UTC()
	if user.IsLocked(now) {
		respondError(c, http.StatusLocked, lockedMessage)
		return
	}

	if user.PasswordHash == "" {
		respondError(c, http.StatusUnauthorized, "This account uses Google sign-in")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		update, locked := failedLoginUpdate(&user, now, cfg.MaxLoginAttempts, cfg.LockDuration)
		if _, err := database.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, update); err != nil {
			logger.Error("failed to record login attempt", zap.String("user_id", user.ID.Hex()), zap.Error(err))
		}
		if locked {
			logger.Warn("account locked", zap.String("user_id", user.ID.Hex()))
			respondError(c, http.StatusLocked, lockedMessage)
			return
		}
		respondError(c, http.StatusUnauthorized, invalidCredentials)
		return
	}

	pair, err := tokens.IssuePair(user.ID.Hex())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	_, err = database.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{
		"$set": bson.M{
			"loginAttempts": 0,
			"refreshToken":  pair.RefreshToken,
			"lastLogin":     now,
			"updatedAt":     now,
		},
		"$unset": bson.M{"lockUntil": ""},
	})
	if err != nil {
		logger.Error("login update failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}
	user.LoginAttempts = 0
	user.LockUntil = nil
	user.LastLogin = &now

	setRefreshCookie(c, pair)
	c.JSON(http.StatusOK, gin.H{
		"message":     "Login successful",
		"accessToken": pair.AccessToken,
		"user":        user,
	})
}

// failedLoginUpdate builds the update for a wrong password and reports
// whether it locks the account. An expired lock starts a fresh count.
func failedLoginUpdate(user *models.User, now time.Time, maxAttempts int, lockFor time.Duration) (bson.M, bool) {
	if user.LockUntil != nil && !user.LockUntil.After(now) {
		return bson.M{
			"$set":   bson.M{"loginAttempts": 1},
			"$unset": bson.M{"lockUntil": ""},
		}, false
	}

	attempts := user.LoginAttempts + 1
	set := bson.M{"loginAttempts": attempts}
	locked := attempts >= maxAttempts
	if locked {
		set["lockUntil"] = now.Add(lockFor)
	}
	return bson.M{"$set": set}, locked
}

func RefreshToken(c *gin.Context) {
	token := refreshTokenFromRequest(c)
	if token == "" {
		respondError(c, http.StatusUnauthorized, "No refresh token provided")
		return
	}

	claims, err := tokens.ParseRefresh(token)
	if err != nil {
		clearRefreshCookie(c)
		respondError(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	userID, err := objectIDFromClaims(claims)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	pair, err := tokens.IssuePair(claims.UserID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	// Only the stored token may be exchanged; the swap is a single conditional write.
	res, err := database.Users.UpdateOne(ctx,
		bson.M{"_id": userID, "refreshToken": token},
		bson.M{"$set": bson.M{"refreshToken": pair.RefreshToken}},
	)
	if err != nil {
		logger.Error("refresh update failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}
	if res.MatchedCount == 0 {
		clearRefreshCookie(c)
		respondError(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	setRefreshCookie(c, pair)
	c.JSON(http.StatusOK, gin.H{"accessToken": pair.AccessToken})
}

func Logout(c *gin.Context) {
	if token := refreshTokenFromRequest(c); token != "" {
		if claims, err := tokens.ParseRefresh(token); err == nil {
			if userID, err := objectIDFromClaims(claims); err == nil {
				ctx, cancel := dbContext(c)
				defer cancel()
				_, err := database.Users.UpdateOne(ctx,
					bson.M{"_id": userID, "refreshToken": token},
					bson.M{"$unset": bson.M{"refreshToken": ""}},
				)
				if err != nil {
					logger.Warn("logout update failed", zap.Error(err))
				}
			}
		}
	}

	clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func GetMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	var user models.User
	err := database.Users.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if database.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	c.JSON(http.StatusOK, user)
}

func VerifyEmail(c *gin.Context) {
	ctx, cancel := dbContext(c)
	defer cancel()

	res, err := database.Users.UpdateOne(ctx,
		bson.M{
			"emailVerificationToken":   hashToken(c.Param("token")),
			"emailVerificationExpires": bson.M{"$gt": time.Now().UTC()},
		},
		bson.M{
			"$set":   bson.M{"isVerified": true, "updatedAt": time.Now().UTC()},
			"$unset": bson.M{"emailVerificationToken": "", "emailVerificationExpires": ""},
		},
	)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}
	if res.MatchedCount == 0 {
		respondError(c, http.StatusBadRequest, "Invalid or expired verification token")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email verified successfully"})
}

func ResendVerification(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	var user models.User
	if err := database.Users.FindOne(ctx, bson.M{"_id": userID}).Decode(&user); err != nil {
		if database.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "User not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}
	if user.IsVerified {
		respondError(c, http.StatusBadRequest, "Email is already verified")
		return
	}

	raw, hashed, err := newOneTimeToken()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to generate verification token")
		return
	}
	_, err = database.Users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{
		"emailVerificationToken":   hashed,
		"emailVerificationExpires": time.Now().UTC().Add(verificationTTL),
	}})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	sendMailAsync(mailer.VerificationEmail(user.Name, user.Email, cfg.ClientURL+"/verify-email/"+raw))
	c.JSON(http.StatusOK, gin.H{"message": "Verification email sent"})
}

func ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "A valid email is required")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	var user models.User
	err := database.Users.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(req.Email))}).Decode(&user)
	if database.IsNotFound(err) {
		c.JSON(http.StatusOK, gin.H{"message": forgotPasswordReply})
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	raw, hashed, err := newOneTimeToken()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to generate reset token")
		return
	}
	_, err = database.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": bson.M{
		"passwordResetToken":   hashed,
		"passwordResetExpires": time.Now().UTC().Add(passwordResetTTL),
	}})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	sendMailAsync(mailer.PasswordResetEmail(user.Name, user.Email, cfg.ClientURL+"/reset-password/"+raw))
	c.JSON(http.StatusOK, gin.H{"message": forgotPasswordReply})
}

func ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}
	if !passwordFits(req.Password) {
		respondError(c, http.StatusBadRequest, passwordTooLong)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	now := time.Now().UTC()
	res, err := database.Users.UpdateOne(ctx,
		bson.M{
			"passwordResetToken":   hashToken(c.Param("token")),
			"passwordResetExpires": bson.M{"$gt": now},
		},
		bson.M{
			"$set": bson.M{
				"passwordHash":  string(hashed),
				"loginAttempts": 0,
				"updatedAt":     now,
			},
			"$unset": bson.M{
				"passwordResetToken":   "",
				"passwordResetExpires": "",
				"lockUntil":            "",
				"refreshToken":         "",
			},
		},
	)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}
	if res.MatchedCount == 0 {
		respondError(c, http.StatusBadRequest, "Invalid or expired token")
		return
	}

	clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Password reset successful"})
}

func ChangePassword(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Current password and a new password of at least 6 characters are required")
		return
	}
	if !passwordFits(req.NewPassword) {
		respondError(c, http.StatusBadRequest, passwordTooLong)
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	var user models.User
	if err := database.Users.FindOne(ctx, bson.M{"_id": userID}).Decode(&user); err != nil {
		if database.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "User not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}
	if user.PasswordHash == "" {
		respondError(c, http.StatusBadRequest, "This account uses Google sign-in")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		respondError(c, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	_, err = database.Users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$set":   bson.M{"passwordHash": string(hashed), "updatedAt": time.Now().UTC()},
		"$unset": bson.M{"refreshToken": ""},
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Password updated, please log in again"})
}

func passwordFits(pw string) bool {
	return len(pw) <= maxPasswordBytes
}

// issueSession stores a fresh refresh token for user and answers with the access token.
func issueSession(c *gin.Context, ctx context.Context, user *models.User, status int, message string) {
	pair, err := tokens.IssuePair(user.ID.Hex())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	now := time.Now().UTC()
	_, err = database.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{
		"$set": bson.M{"refreshToken": pair.RefreshToken, "lastLogin": now, "updatedAt": now},
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}
	user.LastLogin = &now

	setRefreshCookie(c, pair)
	c.JSON(status, gin.H{
		"message":     message,
		"accessToken": pair.AccessToken,
		"user":        user,
	})
}

func setRefreshCookie(c *gin.Context, pair middleware.TokenPair) {
	sameSite := http.SameSiteLaxMode
	if cfg.CookieSecure {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	maxAge := int(time.Until(pair.RefreshExp).Seconds())
	c.SetCookie(refreshCookie, pair.RefreshToken, maxAge, refreshCookiePath, "", cfg.CookieSecure, true)
}

func clearRefreshCookie(c *gin.Context) {
	c.SetCookie(refreshCookie, "", -1, refreshCookiePath, "", cfg.CookieSecure, true)
}

func refreshTokenFromRequest(c *gin.Context) string {
	if token, err := c.Cookie(refreshCookie); err == nil && token != "" {
		return token
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&body)
	}
	return body.RefreshToken
}

func objectIDFromClaims(claims *middleware.Claims) (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(claims.UserID)
}

// newOneTimeToken returns a random token for the email link and the hash stored in its place.
func newOneTimeToken() (raw, hashed string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func sendMailAsync(msg mailer.Message) {
	if mail == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := mail.Send(ctx, msg); err != nil {
			logger.Error("failed to send email", zap.String("to", msg.ToEmail), zap.String("subject", msg.Subject), zap.Error(err))
		}
	}()
}
