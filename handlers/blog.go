package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"blogsy/content"
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
	maxTitleLength    = 200
	minContentLength  = 20
	maxCategoryLength = 50
)

type CreateBlogRequest struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	CoverImage string   `json:"coverImage"`
	Status     string   `json:"status"`
}

// UpdateBlogRequest leaves absent fields unchanged.
type UpdateBlogRequest struct {
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Category   *string   `json:"category"`
	Tags       *[]string `json:"tags"`
	CoverImage *string   `json:"coverImage"`
	Status     *string   `json:"status"`
}

func validateTitle(title string) (string, string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "Title is required"
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", "Title cannot exceed 200 characters"
	}
	return title, ""
}

// prepareContent checks the length of the trimmed content and returns it cleaned.
func prepareContent(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	if utf8.RuneCountInString(raw) < minContentLength {
		return "", "Content must be at least 20 characters"
	}
	cleaned, err := content.CleanHTML(raw)
	if err != nil {
		return "", "Content could not be parsed"
	}
	return cleaned, ""
}

func validateStatus(status string) (string, string) {
	switch status {
	case "":
		return models.StatusPublished, ""
	case models.StatusPublished, models.StatusDraft:
		return status, ""
	}
	return "", "Status must be published or draft"
}

func validateCategory(category string) (string, string) {
	category = strings.TrimSpace(category)
	if utf8.RuneCountInString(category) > maxCategoryLength {
		return "", "Category cannot exceed 50 characters"
	}
	return category, ""
}

func CreateBlog(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateBlogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	title, msg := validateTitle(req.Title)
	if msg != "" {
		respondError(c, http.StatusBadRequest, msg)
		return
	}
	body, msg := prepareContent(req.Content)
	if msg != "" {
		respondError(c, http.StatusBadRequest, msg)
		return
	}
	status, msg := validateStatus(req.Status)
	if msg != "" {
		respondError(c, http.StatusBadRequest, msg)
		return
	}
	category, msg := validateCategory(req.Category)
	if msg != "" {
		respondError(c, http.StatusBadRequest, msg)
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	now := time.Now().UTC()
	blog := models.Blog{
		ID:          primitive.NewObjectID(),
		Title:       title,
		Content:     body,
		Excerpt:     content.Excerpt(body),
		CoverImage:  strings.TrimSpace(req.CoverImage),
		Category:    category,
		Tags:        content.NormalizeTags(req.Tags),
		Author:      userID,
		Status:      status,
		ReadingTime: content.ReadingTime(body),
		Likes:       []primitive.ObjectID{},
		Comments:    []models.Comment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		blog.Slug, err = uniqueSlug(ctx, title, primitive.NilObjectID)
		if err != nil {
			break
		}
		_, err = database.Blogs.InsertOne(ctx, blog)
		if !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	if err != nil {
		logger.Error("create blog failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to create blog")
		return
	}

	author := loadSingleSummary(ctx, userID)
	c.JSON(http.StatusCreated, models.NewBlogDetail(&blog, userID, func(primitive.ObjectID) models.UserSummary { return author }))
}

// uniqueSlug derives a slug from title and appends a random suffix when it is taken.
func uniqueSlug(ctx context.Context, title string, exclude primitive.ObjectID) (string, error) {
	base := content.Slugify(title)
	filter := bson.M{"slug": base}
	if !exclude.IsZero() {
		filter["_id"] = bson.M{"$ne": exclude}
	}
	n, err := database.Blogs.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return "", err
	}
	if n == 0 {
		return base, nil
	}
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return base + "-" + hex.EncodeToString(suffix), nil
}

func GetBlogs(c *gin.Context) {
	filter := bson.M{"status": models.StatusPublished}

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		filter["$or"] = []bson.M{{"title": pattern}, {"tags": pattern}}
	}
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		filter["category"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(category) + "$", Options: "i"}
	}
	if tag := strings.ToLower(strings.TrimSpace(c.Query("tag"))); tag != "" {
		filter["tags"] = tag
	}
	if author := c.Query("author"); author != "" {
		id, err := primitive.ObjectIDFromHex(author)
		if err != nil {
			respondError(c, http.StatusBadRequest, "Invalid author id")
			return
		}
		filter["author"] = id
	}

	listBlogs(c, filter, sortFor(c.Query("sort")))
}

func sortFor(sort string) bson.D {
	switch sort {
	case "popular":
		return bson.D{{Key: "likesCount", Value: -1}, {Key: "views", Value: -1}, {Key: "createdAt", Value: -1}}
	case "views":
		return bson.D{{Key: "views", Value: -1}, {Key: "createdAt", Value: -1}}
	default:
		return bson.D{{Key: "createdAt", Value: -1}}
	}
}

// listBlogs answers a paginated page of blog summaries matching filter.
func listBlogs(c *gin.Context, filter bson.M, sort bson.D) {
	page, limit := pagination(c)
	viewer := middleware.UserID(c)

	ctx, cancel := dbContext(c)
	defer cancel()

	total, err := database.Blogs.CountDocuments(ctx, filter)
	if err != nil {
		logger.Error("count blogs failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to fetch blogs")
		return
	}

	blogs, err := findSummaries(ctx, filter, sort, (page-1)*limit, limit, viewer)
	if err != nil {
		logger.Error("list blogs failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to fetch blogs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blogs":      blogs,
		"page":       page,
		"limit":      limit,
		"total":      total,
		"totalPages": totalPages(total, limit),
	})
}

func findSummaries(ctx context.Context, filter bson.M, sort bson.D, skip, limit int64, viewer primitive.ObjectID) ([]models.BlogSummary, error) {
	likes := bson.M{"$ifNull": bson.A{"$likes", bson.A{}}}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$addFields", Value: bson.M{
			"likesCount":    bson.M{"$size": likes},
			"commentsCount": bson.M{"$size": bson.M{"$ifNull": bson.A{"$comments", bson.A{}}}},
			"liked":         bson.M{"$in": bson.A{viewer, likes}},
		}}},
		{{Key: "$sort", Value: sort}},
		{{Key: "$skip", Value: skip}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$project", Value: bson.M{"content": 0, "comments": 0, "likes": 0}}})

	cursor, err := database.Blogs.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	blogs := []models.BlogSummary{}
	if err := cursor.All(ctx, &blogs); err != nil {
		return nil, err
	}

	authorIDs := make([]primitive.ObjectID, 0, len(blogs))
	for _, b := range blogs {
		authorIDs = append(authorIDs, b.AuthorID)
	}
	authors, err := loadUserSummaries(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	for i := range blogs {
		blogs[i].Author = summaryFor(authors, blogs[i].AuthorID)
		if blogs[i].Tags == nil {
			blogs[i].Tags = []string{}
		}
	}
	return blogs, nil
}

// blogFilter matches :id as a slug. A 24-hex param may also be an ObjectID.
func blogFilter(param string) bson.M {
	slug := bson.M{"slug": strings.ToLower(param)}
	if id, err := primitive.ObjectIDFromHex(param); err == nil {
		return bson.M{"$or": []bson.M{{"_id": id}, slug}}
	}
	return slug
}

// visibleTo restricts filter to blogs viewer may read.
func visibleTo(filter bson.M, viewer primitive.ObjectID) bson.M {
	return bson.M{"$and": []bson.M{
		filter,
		{"$or": []bson.M{{"status": bson.M{"$ne": models.StatusDraft}}, {"author": viewer}}},
	}}
}

func GetBlog(c *gin.Context) {
	viewer := middleware.UserID(c)

	ctx, cancel := dbContext(c)
	defer cancel()

	var blog models.Blog
	err := database.Blogs.FindOneAndUpdate(ctx,
		visibleTo(blogFilter(c.Param("id")), viewer),
		bson.M{"$inc": bson.M{"views": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&blog)
	if database.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "Blog not found")
		return
	}
	if err != nil {
		logger.Error("get blog failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to fetch blog")
		return
	}

	detail, err := blogDetail(ctx, &blog, viewer)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to fetch blog")
		return
	}
	c.JSON(http.StatusOK, detail)
}

func blogDetail(ctx context.Context, blog *models.Blog, viewer primitive.ObjectID) (models.BlogDetail, error) {
	users, err := loadUserSummaries(ctx, blog.ParticipantIDs())
	if err != nil {
		return models.BlogDetail{}, err
	}
	return models.NewBlogDetail(blog, viewer, func(id primitive.ObjectID) models.UserSummary {
		return summaryFor(users, id)
	}), nil
}

// loadOwnBlog fetches :id and checks that the current user wrote it.
func loadOwnBlog(c *gin.Context, ctx context.Context, userID primitive.ObjectID) (*models.Blog, bool) {
	blogID, ok := paramID(c, "id", "blog")
	if !ok {
		return nil, false
	}
	var blog models.Blog
	err := database.Blogs.FindOne(ctx, bson.M{"_id": blogID}).Decode(&blog)
	if database.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "Blog not found")
		return nil, false
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	if !blog.IsAuthor(userID) {
		respondError(c, http.StatusForbidden, "Not authorized to modify this blog")
		return nil, false
	}
	return &blog, true
}

func UpdateBlog(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateBlogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	blog, ok := loadOwnBlog(c, ctx, userID)
	if !ok {
		return
	}

	set := bson.M{}
	if req.Title != nil {
		title, msg := validateTitle(*req.Title)
		if msg != "" {
			respondError(c, http.StatusBadRequest, msg)
			return
		}
		if title != blog.Title {
			slug, err := uniqueSlug(ctx, title, blog.ID)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "Database error")
				return
			}
			blog.Title, blog.Slug = title, slug
			set["title"], set["slug"] = title, slug
		}
	}
	if req.Content != nil {
		body, msg := prepareContent(*req.Content)
		if msg != "" {
			respondError(c, http.StatusBadRequest, msg)
			return
		}
		blog.Content = body
		blog.Excerpt = content.Excerpt(body)
		blog.ReadingTime = content.ReadingTime(body)
		set["content"], set["excerpt"], set["readingTime"] = blog.Content, blog.Excerpt, blog.ReadingTime
	}
	if req.Category != nil {
		category, msg := validateCategory(*req.Category)
		if msg != "" {
			respondError(c, http.StatusBadRequest, msg)
			return
		}
		blog.Category = category
		set["category"] = category
	}
	if req.Tags != nil {
		blog.Tags = content.NormalizeTags(*req.Tags)
		set["tags"] = blog.Tags
	}
	if req.CoverImage != nil {
		blog.CoverImage = strings.TrimSpace(*req.CoverImage)
		set["coverImage"] = blog.CoverImage
	}
	if req.Status != nil {
		status, msg := validateStatus(*req.Status)
		if msg != "" {
			respondError(c, http.StatusBadRequest, msg)
			return
		}
		blog.Status = status
		set["status"] = status
	}

	blog.UpdatedAt = time.Now().UTC()
	set["updatedAt"] = blog.UpdatedAt

	if _, err := database.Blogs.UpdateOne(ctx, bson.M{"_id": blog.ID}, bson.M{"$set": set}); err != nil {
		_ = c.Error(duplicateAs(err, "A blog with this title already exists"))
		return
	}

	detail, err := blogDetail(ctx, blog, userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to fetch blog")
		return
	}
	c.JSON(http.StatusOK, detail)
}

func DeleteBlog(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	blog, ok := loadOwnBlog(c, ctx, userID)
	if !ok {
		return
	}

	if _, err := database.Blogs.DeleteOne(ctx, bson.M{"_id": blog.ID}); err != nil {
		logger.Error("delete blog failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to delete blog")
		return
	}
	if _, err := database.Users.UpdateMany(ctx,
		bson.M{"favourites": blog.ID},
		bson.M{"$pull": bson.M{"favourites": blog.ID}},
	); err != nil {
		logger.Warn("failed to clear favourites of deleted blog", zap.String("blog_id", blog.ID.Hex()), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"message": "Blog deleted successfully"})
}

// LikeBlog toggles the current user's like.
func LikeBlog(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	blogID, ok := paramID(c, "id", "blog")
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	liked, blog, err := toggleLike(ctx, blogID, userID)
	if database.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "Blog not found")
		return
	}
	if err != nil {
		logger.Error("like blog failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to update like")
		return
	}

	likesCount := len(blog.Likes)
	broadcast(blogID, "like", gin.H{"userId": userID.Hex(), "liked": liked, "likesCount": likesCount})
	c.JSON(http.StatusOK, gin.H{"liked": liked, "likesCount": likesCount})
}

// toggleLike pulls the like when present and adds it otherwise. Each step is a
// single conditional write, so concurrent toggles never duplicate a like.
func toggleLike(ctx context.Context, blogID, userID primitive.ObjectID) (bool, *models.Blog, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"likes": 1})
	visible := bson.M{"$or": []bson.M{{"status": bson.M{"$ne": models.StatusDraft}}, {"author": userID}}}

	var blog models.Blog
	err := database.Blogs.FindOneAndUpdate(ctx,
		bson.M{"_id": blogID, "likes": userID},
		bson.M{"$pull": bson.M{"likes": userID}},
		opts,
	).Decode(&blog)
	if err == nil {
		return false, &blog, nil
	}
	if !database.IsNotFound(err) {
		return false, nil, err
	}

	err = database.Blogs.FindOneAndUpdate(ctx,
		bson.M{"$and": []bson.M{{"_id": blogID}, visible}},
		bson.M{"$addToSet": bson.M{"likes": userID}},
		opts,
	).Decode(&blog)
	if err != nil {
		return false, nil, err
	}
	return true, &blog, nil
}

func ShareBlog(c *gin.Context) {
	blogID, ok := paramID(c, "id", "blog")
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	var blog models.Blog
	err := database.Blogs.FindOneAndUpdate(ctx,
		bson.M{"_id": blogID, "status": models.StatusPublished},
		bson.M{"$inc": bson.M{"shares": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After).SetProjection(bson.M{"shares": 1}),
	).Decode(&blog)
	if database.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "Blog not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to share blog")
		return
	}

	c.JSON(http.StatusOK, gin.H{"shares": blog.Shares})
}

func GetMyBlogs(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	filter := bson.M{"author": userID}
	if status := c.Query("status"); status == models.StatusDraft || status == models.StatusPublished {
		filter["status"] = status
	}
	listBlogs(c, filter, sortFor("latest"))
}

func GetUserBlogs(c *gin.Context) {
	userID, ok := paramID(c, "id", "user")
	if !ok {
		return
	}
	listBlogs(c, bson.M{"author": userID, "status": models.StatusPublished}, sortFor(c.Query("sort")))
}

// broadcast pushes a blog event to websocket subscribers when the hub is running.
func broadcast(blogID primitive.ObjectID, event string, payload interface{}) {
	if wsManager == nil {
		return
	}
	wsManager.BroadcastToBlog(blogID.Hex(), event, payload)
}

func loadSingleSummary(ctx context.Context, id primitive.ObjectID) models.UserSummary {
	users, err := loadUserSummaries(ctx, []primitive.ObjectID{id})
	if err != nil {
		logger.Warn("failed to load user summary", zap.Error(err))
	}
	return summaryFor(users, id)
}
