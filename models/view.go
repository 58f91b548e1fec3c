package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BlogSummary is a list entry. It is decoded straight from the list
// aggregation, which adds the count and liked fields.
type BlogSummary struct {
	ID            primitive.ObjectID `bson:"_id" json:"id"`
	Title         string             `bson:"title" json:"title"`
	Slug          string             `bson:"slug" json:"slug"`
	Excerpt       string             `bson:"excerpt" json:"excerpt"`
	CoverImage    string             `bson:"coverImage,omitempty" json:"coverImage,omitempty"`
	Category      string             `bson:"category,omitempty" json:"category,omitempty"`
	Tags          []string           `bson:"tags" json:"tags"`
	AuthorID      primitive.ObjectID `bson:"author" json:"-"`
	Author        UserSummary        `bson:"-" json:"author"`
	Status        string             `bson:"status" json:"status"`
	ReadingTime   int                `bson:"readingTime" json:"readingTime"`
	Views         int64              `bson:"views" json:"views"`
	Shares        int64              `bson:"shares" json:"shares"`
	LikesCount    int                `bson:"likesCount" json:"likesCount"`
	CommentsCount int                `bson:"commentsCount" json:"commentsCount"`
	Liked         bool               `bson:"liked" json:"liked"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// BlogDetail is a single blog with its author and comment authors resolved.
type BlogDetail struct {
	ID            primitive.ObjectID `json:"id"`
	Title         string             `json:"title"`
	Slug          string             `json:"slug"`
	Content       string             `json:"content"`
	Excerpt       string             `json:"excerpt"`
	CoverImage    string             `json:"coverImage,omitempty"`
	Category      string             `json:"category,omitempty"`
	Tags          []string           `json:"tags"`
	Author        UserSummary        `json:"author"`
	Status        string             `json:"status"`
	ReadingTime   int                `json:"readingTime"`
	Views         int64              `json:"views"`
	Shares        int64              `json:"shares"`
	LikesCount    int                `json:"likesCount"`
	Liked         bool               `json:"liked"`
	Comments      []CommentView      `json:"comments"`
	CommentsCount int                `json:"commentsCount"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

type CommentView struct {
	ID             primitive.ObjectID `json:"id"`
	User           UserSummary        `json:"user"`
	Text           string             `json:"text"`
	Replies        []ReplyView        `json:"replies"`
	Reactions      []Reaction         `json:"reactions"`
	ReactionCounts map[string]int     `json:"reactionCounts"`
	CreatedAt      time.Time          `json:"createdAt"`
}

type ReplyView struct {
	ID        primitive.ObjectID `json:"id"`
	User      UserSummary        `json:"user"`
	Text      string             `json:"text"`
	CreatedAt time.Time          `json:"createdAt"`
}

// UserLookup resolves a user id to its summary card.
type UserLookup func(id primitive.ObjectID) UserSummary

// ParticipantIDs lists the author and everyone who commented or replied.
func (b *Blog) ParticipantIDs() []primitive.ObjectID {
	ids := []primitive.ObjectID{b.Author}
	for _, c := range b.Comments {
		ids = append(ids, c.User)
		for _, r := range c.Replies {
			ids = append(ids, r.User)
		}
	}
	return ids
}

func NewBlogDetail(b *Blog, viewer primitive.ObjectID, users UserLookup) BlogDetail {
	comments := make([]CommentView, 0, len(b.Comments))
	for i := range b.Comments {
		comments = append(comments, NewCommentView(&b.Comments[i], users))
	}
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	return BlogDetail{
		ID:            b.ID,
		Title:         b.Title,
		Slug:          b.Slug,
		Content:       b.Content,
		Excerpt:       b.Excerpt,
		CoverImage:    b.CoverImage,
		Category:      b.Category,
		Tags:          tags,
		Author:        users(b.Author),
		Status:        b.Status,
		ReadingTime:   b.ReadingTime,
		Views:         b.Views,
		Shares:        b.Shares,
		LikesCount:    len(b.Likes),
		Liked:         !viewer.IsZero() && b.HasLiked(viewer),
		Comments:      comments,
		CommentsCount: len(b.Comments),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func NewCommentView(c *Comment, users UserLookup) CommentView {
	replies := make([]ReplyView, 0, len(c.Replies))
	for _, r := range c.Replies {
		replies = append(replies, NewReplyView(r, users))
	}
	reactions := c.Reactions
	if reactions == nil {
		reactions = []Reaction{}
	}
	return CommentView{
		ID:             c.ID,
		User:           users(c.User),
		Text:           c.Text,
		Replies:        replies,
		Reactions:      reactions,
		ReactionCounts: c.ReactionCounts(),
		CreatedAt:      c.CreatedAt,
	}
}

func NewReplyView(r Reply, users UserLookup) ReplyView {
	return ReplyView{ID: r.ID, User: users(r.User), Text: r.Text, CreatedAt: r.CreatedAt}
}
