package handlers

import (
	"net/http"

	"blogsy/database"
	"blogsy/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func GetFavourites(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	var user models.User
	err := database.Users.FindOne(ctx, bson.M{"_id": userID}, options.FindOne().SetProjection(bson.M{"favourites": 1})).Decode(&user)
	if database.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	filter := visibleTo(bson.M{"_id": bson.M{"$in": user.Favourites}}, userID)
	blogs, err := findSummaries(ctx, filter, sortFor("latest"), 0, 0, userID)
	if err != nil {
		logger.Error("list favourites failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to fetch favourites")
		return
	}

	c.JSON(http.StatusOK, gin.H{"favourites": blogs, "count": len(blogs)})
}

func AddFavourite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	blogID, ok := paramID(c, "blogId", "blog")
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	n, err := database.Blogs.CountDocuments(ctx, visibleTo(bson.M{"_id": blogID}, userID))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}
	if n == 0 {
		respondError(c, http.StatusNotFound, "Blog not found")
		return
	}

	res, err := database.Users.UpdateOne(ctx,
		bson.M{"_id": userID, "favourites": bson.M{"$ne": blogID}},
		bson.M{"$addToSet": bson.M{"favourites": blogID}},
	)
	if err != nil {
		logger.Error("add favourite failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to add favourite")
		return
	}
	if res.MatchedCount == 0 {
		respondError(c, http.StatusBadRequest, "Blog already in favourites")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Added to favourites"})
}

func RemoveFavourite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	blogID, ok := paramID(c, "blogId", "blog")
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	res, err := database.Users.UpdateOne(ctx,
		bson.M{"_id": userID, "favourites": blogID},
		bson.M{"$pull": bson.M{"favourites": blogID}},
	)
	if err != nil {
		logger.Error("remove favourite failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to remove favourite")
		return
	}
	if res.MatchedCount == 0 {
		respondError(c, http.StatusBadRequest, "Blog is not in favourites")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Removed from favourites"})
}
