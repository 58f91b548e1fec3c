package handlers

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"blogsy/database"
	"blogsy/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	maxCommentLength = 1000
	maxEmojiBytes    = 16
)

type CommentRequest struct {
	Text string `json:"text"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

func validateCommentText(text string) (string, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "Comment text is required"
	}
	if utf8.RuneCountInString(text) > maxCommentLength {
		return "", "Comment cannot exceed 1000 characters"
	}
	return text, ""
}

// loadVisibleBlog fetches :id for a comment operation. Drafts answer 404 to non-authors.
func loadVisibleBlog(c *gin.Context, ctx context.Context, viewer primitive.ObjectID) (*models.Blog, bool) {
	blogID, ok := paramID(c, "id", "blog")
	if !ok {
		return nil, false
	}
	var blog models.Blog
	err := database.Blogs.FindOne(ctx, bson.M{"_id": blogID}).Decode(&blog)
	if database.IsNotFound(err) || (err == nil && !blog.VisibleTo(viewer)) {
		respondError(c, http.StatusNotFound, "Blog not found")
		return nil, false
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	return &blog, true
}

func AddComment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	text, msg := validateCommentText(req.Text)
	if msg != "" {
		respondError(c, http.StatusBadRequest, msg)
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	blog, ok := loadVisibleBlog(c, ctx, userID)
	if !ok {
		return
	}

	comment := models.NewComment(userID, text)
	res, err := database.Blogs.UpdateOne(ctx,
		bson.M{"_id": blog.ID},
		bson.M{"$push": bson.M{"comments": comment}},
	)
	if err != nil {
		logger.Error("add comment failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to add comment")
		return
	}
	if res.MatchedCount == 0 {
		respondError(c, http.StatusNotFound, "Blog not found")
		return
	}

	author := loadSingleSummary(ctx, userID)
	view := models.NewCommentView(&comment, func(primitive.ObjectID) models.UserSummary { return author })

	broadcast(blog.ID, "comment_added", view)
	if blog.Author != userID {
		notify(blog.Author, "comment", author.Username+" commented on \""+blog.Title+"\"", "/blog/"+blog.Slug)
	}

	c.JSON(http.StatusCreated, view)
}

func DeleteComment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	commentID, ok := paramID(c, "commentId", "comment")
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	blog, ok := loadVisibleBlog(c, ctx, userID)
	if !ok {
		return
	}
	comment := blog.FindComment(commentID)
	if comment == nil {
		respondError(c, http.StatusNotFound, "Comment not found")
		return
	}
	if comment.User != userID && !blog.IsAuthor(userID) {
		respondError(c, http.StatusForbidden, "Not authorized to delete this comment")
		return
	}

	_, err := database.Blogs.UpdateOne(ctx,
		bson.M{"_id": blog.ID},
		bson.M{"$pull": bson.M{"comments": bson.M{"_id": commentID}}},
	)
	if err != nil {
		logger.Error("delete comment failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to delete comment")
		return
	}

	broadcast(blog.ID, "comment_deleted", gin.H{"commentId": commentID.Hex()})
	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted successfully"})
}

func AddReply(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	commentID, ok := paramID(c, "commentId", "comment")
	if !ok {
		return
	}

	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	text, msg := validateCommentText(req.Text)
	if msg != "" {
		respondError(c, http.StatusBadRequest, msg)
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	blog, ok := loadVisibleBlog(c, ctx, userID)
	if !ok {
		return
	}

	reply := models.NewReply(userID, text)
	res, err := database.Blogs.UpdateOne(ctx,
		bson.M{"_id": blog.ID, "comments._id": commentID},
		bson.M{"$push": bson.M{"comments.$.replies": reply}},
	)
	if err != nil {
		logger.Error("add reply failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to add reply")
		return
	}
	if res.MatchedCount == 0 {
		respondError(c, http.StatusNotFound, "Comment not found")
		return
	}

	author := loadSingleSummary(ctx, userID)
	view := models.NewReplyView(reply, func(primitive.ObjectID) models.UserSummary { return author })

	broadcast(blog.ID, "reply_added", gin.H{"commentId": commentID.Hex(), "reply": view})
	if comment := blog.FindComment(commentID); comment != nil && comment.User != userID {
		notify(comment.User, "reply", author.Username+" replied to your comment", "/blog/"+blog.Slug)
	}

	c.JSON(http.StatusCreated, view)
}

func DeleteReply(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	commentID, ok := paramID(c, "commentId", "comment")
	if !ok {
		return
	}
	replyID, ok := paramID(c, "replyId", "reply")
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	blog, ok := loadVisibleBlog(c, ctx, userID)
	if !ok {
		return
	}
	comment := blog.FindComment(commentID)
	if comment == nil {
		respondError(c, http.StatusNotFound, "Comment not found")
		return
	}
	reply := comment.FindReply(replyID)
	if reply == nil {
		respondError(c, http.StatusNotFound, "Reply not found")
		return
	}
	if reply.User != userID && !blog.IsAuthor(userID) {
		respondError(c, http.StatusForbidden, "Not authorized to delete this reply")
		return
	}

	_, err := database.Blogs.UpdateOne(ctx,
		bson.M{"_id": blog.ID, "comments._id": commentID},
		bson.M{"$pull": bson.M{"comments.$.replies": bson.M{"_id": replyID}}},
	)
	if err != nil {
		logger.Error("delete reply failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to delete reply")
		return
	}

	broadcast(blog.ID, "reply_deleted", gin.H{"commentId": commentID.Hex(), "replyId": replyID.Hex()})
	c.JSON(http.StatusOK, gin.H{"message": "Reply deleted successfully"})
}

// ReactToComment toggles the current user's emoji on a comment.
func ReactToComment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	commentID, ok := paramID(c, "commentId", "comment")
	if !ok {
		return
	}

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" || len(emoji) > maxEmojiBytes {
		respondError(c, http.StatusBadRequest, "A single emoji is required")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	blog, ok := loadVisibleBlog(c, ctx, userID)
	if !ok {
		return
	}
	comment := blog.FindComment(commentID)
	if comment == nil {
		respondError(c, http.StatusNotFound, "Comment not found")
		return
	}

	reacted := comment.ToggleReaction(userID, emoji)
	res, err := database.Blogs.UpdateOne(ctx,
		bson.M{"_id": blog.ID, "comments._id": commentID},
		bson.M{"$set": bson.M{"comments.$.reactions": comment.Reactions}},
	)
	if err != nil {
		logger.Error("react to comment failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to update reaction")
		return
	}
	if res.MatchedCount == 0 {
		respondError(c, http.StatusNotFound, "Comment not found")
		return
	}

	counts := comment.ReactionCounts()
	broadcast(blog.ID, "reaction", gin.H{"commentId": commentID.Hex(), "reactions": counts})
	c.JSON(http.StatusOK, gin.H{
		"reacted":   reacted,
		"reactions": comment.Reactions,
		"counts":    counts,
	})
}
