package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"blogsy/database"
	"blogsy/middleware"
	"blogsy/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	maxBioLength  = 500
	maxNameLength = 60
)

var (
	errAlreadyFollowing = errors.New("already following")
	errNotFollowing     = errors.New("not following")
)

type UpdateProfileRequest struct {
	Name     *string `json:"name" form:"name"`
	Username *string `json:"username" form:"username"`
	Bio      *string `json:"bio" form:"bio"`
	Avatar   *string `json:"avatar" form:"avatar"`
}

func GetUserProfile(c *gin.Context) {
	userID, ok := paramID(c, "id", "user")
	if !ok {
		return
	}
	viewer := middleware.UserID(c)

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

	blogsCount, err := database.Blogs.CountDocuments(ctx, bson.M{"author": userID, "status": models.StatusPublished})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	summary := user.Summary()
	if summary.Avatar == "" {
		summary.Avatar = fallbackAvatar
	}
	c.JSON(http.StatusOK, models.Profile{
		UserSummary:    summary,
		Bio:            user.Bio,
		FollowersCount: len(user.Followers),
		FollowingCount: len(user.Following),
		BlogsCount:     blogsCount,
		IsFollowing:    !viewer.IsZero() && user.HasFollower(viewer),
		CreatedAt:      user.CreatedAt,
	})
}

func GetFollowers(c *gin.Context) {
	listConnections(c, "followers")
}

func GetFollowing(c *gin.Context) {
	listConnections(c, "following")
}

// listConnections answers the user summaries held in one of the user's follow lists.
func listConnections(c *gin.Context, field string) {
	userID, ok := paramID(c, "id", "user")
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	var user models.User
	err := database.Users.FindOne(ctx, bson.M{"_id": userID}, options.FindOne().SetProjection(bson.M{field: 1})).Decode(&user)
	if database.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	ids := user.Followers
	if field == "following" {
		ids = user.Following
	}
	users, err := loadUserSummaries(ctx, ids)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	out := make([]models.UserSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, u)
		}
	}
	c.JSON(http.StatusOK, gin.H{field: out, "count": len(out)})
}

// UpdateProfile accepts JSON or a multipart form with an optional avatar file.
func UpdateProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	var err error
	multipartForm := strings.HasPrefix(c.ContentType(), "multipart/form-data")
	if multipartForm {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageSize+1<<20)
		err = c.ShouldBind(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	set := bson.M{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameLength {
			respondError(c, http.StatusBadRequest, "Name must be 1-60 characters")
			return
		}
		set["name"] = name
	}
	if req.Bio != nil {
		bio := strings.TrimSpace(*req.Bio)
		if utf8.RuneCountInString(bio) > maxBioLength {
			respondError(c, http.StatusBadRequest, "Bio cannot exceed 500 characters")
			return
		}
		set["bio"] = bio
	}
	if req.Avatar != nil {
		avatar := strings.TrimSpace(*req.Avatar)
		if avatar != "" {
			if u, err := url.ParseRequestURI(avatar); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				respondError(c, http.StatusBadRequest, "Avatar must be a valid URL")
				return
			}
		}
		set["avatar"] = avatar
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	if req.Username != nil {
		username := strings.ToLower(strings.TrimSpace(*req.Username))
		if len(username) < 3 || len(username) > 30 || !usernamePattern.MatchString(username) {
			respondError(c, http.StatusBadRequest, "Username must be 3-30 letters, numbers or underscores")
			return
		}
		n, err := database.Users.CountDocuments(ctx, bson.M{"username": username, "_id": bson.M{"$ne": userID}})
		if err != nil {
			respondError(c, http.StatusInternalServerError, "Database error")
			return
		}
		if n > 0 {
			respondError(c, http.StatusBadRequest, "Username is already taken")
			return
		}
		set["username"] = username
	}

	if multipartForm {
		if header, err := c.FormFile("avatar"); err == nil {
			if uploader == nil {
				respondError(c, http.StatusServiceUnavailable, "Uploads not configured")
				return
			}
			file, err := readImage(header)
			if err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
			res, err := uploader.Upload(ctx, file)
			if err != nil {
				logger.Error("avatar upload failed", zap.Error(err))
				respondError(c, http.StatusInternalServerError, "Failed to upload avatar")
				return
			}
			set["avatar"] = res.URL
		}
	}

	if len(set) == 0 {
		respondError(c, http.StatusBadRequest, "No fields to update")
		return
	}
	set["updatedAt"] = time.Now().UTC()

	var user models.User
	err = database.Users.FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if database.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		_ = c.Error(duplicateAs(err, "Username is already taken"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Profile updated successfully", "user": user})
}

func FollowUser(c *gin.Context) {
	userID, targetID, ok := followParams(c)
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	err := database.RunInTransaction(ctx, func(ctx context.Context) error {
		return follow(ctx, userID, targetID)
	})
	switch {
	case errors.Is(err, errAlreadyFollowing):
		respondError(c, http.StatusBadRequest, "Already following this user")
		return
	case database.IsNotFound(err):
		respondError(c, http.StatusNotFound, "User not found")
		return
	case err != nil:
		logger.Error("follow failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to follow user")
		return
	}

	follower := loadSingleSummary(ctx, userID)
	notify(targetID, "follow", follower.Username+" started following you", "/profile/"+userID.Hex())
	c.JSON(http.StatusOK, gin.H{"message": "User followed successfully"})
}

func UnfollowUser(c *gin.Context) {
	userID, targetID, ok := followParams(c)
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	err := database.RunInTransaction(ctx, func(ctx context.Context) error {
		return unfollow(ctx, userID, targetID)
	})
	switch {
	case errors.Is(err, errNotFollowing):
		respondError(c, http.StatusBadRequest, "You are not following this user")
		return
	case database.IsNotFound(err):
		respondError(c, http.StatusNotFound, "User not found")
		return
	case err != nil:
		logger.Error("unfollow failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to unfollow user")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User unfollowed successfully"})
}

func followParams(c *gin.Context) (primitive.ObjectID, primitive.ObjectID, bool) {
	userID, ok := currentUser(c)
	if !ok {
		return userID, userID, false
	}
	targetID, ok := paramID(c, "id", "user")
	if !ok {
		return userID, targetID, false
	}
	if userID == targetID {
		respondError(c, http.StatusBadRequest, "You cannot follow yourself")
		return userID, targetID, false
	}
	return userID, targetID, true
}

// follow adds the edge on both documents. The filter on the follower side
// makes a repeated follow a no-op that reports errAlreadyFollowing.
func follow(ctx context.Context, userID, targetID primitive.ObjectID) error {
	n, err := database.Users.CountDocuments(ctx, bson.M{"_id": targetID})
	if err != nil {
		return err
	}
	if n == 0 {
		return mongo.ErrNoDocuments
	}

	res, err := database.Users.UpdateOne(ctx,
		bson.M{"_id": userID, "following": bson.M{"$ne": targetID}},
		bson.M{"$addToSet": bson.M{"following": targetID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// the caller's own document may be gone
		n, err := database.Users.CountDocuments(ctx, bson.M{"_id": userID})
		if err != nil {
			return err
		}
		if n == 0 {
			return mongo.ErrNoDocuments
		}
		return errAlreadyFollowing
	}

	_, err = database.Users.UpdateOne(ctx,
		bson.M{"_id": targetID},
		bson.M{"$addToSet": bson.M{"followers": userID}},
	)
	return err
}

func unfollow(ctx context.Context, userID, targetID primitive.ObjectID) error {
	res, err := database.Users.UpdateOne(ctx,
		bson.M{"_id": userID, "following": targetID},
		bson.M{"$pull": bson.M{"following": targetID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errNotFollowing
	}

	_, err = database.Users.UpdateOne(ctx,
		bson.M{"_id": targetID},
		bson.M{"$pull": bson.M{"followers": userID}},
	)
	return err
}
