package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	StatusPublished = "published"
	StatusDraft     = "draft"
)

type Blog struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Title       string               `bson:"title" json:"title"`
	Slug        string               `bson:"slug" json:"slug"`
	Content     string               `bson:"content" json:"content,omitempty"`
	Excerpt     string               `bson:"excerpt" json:"excerpt"`
	CoverImage  string               `bson:"coverImage,omitempty" json:"coverImage,omitempty"`
	Category    string               `bson:"category,omitempty" json:"category,omitempty"`
	Tags        []string             `bson:"tags" json:"tags"`
	Author      primitive.ObjectID   `bson:"author" json:"authorId"`
	Status      string               `bson:"status" json:"status"`
	ReadingTime int                  `bson:"readingTime" json:"readingTime"`
	Views       int64                `bson:"views" json:"views"`
	Likes       []primitive.ObjectID `bson:"likes" json:"likes"`
	Shares      int64                `bson:"shares" json:"shares"`
	Comments    []Comment            `bson:"comments" json:"comments,omitempty"`
	CreatedAt   time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt" json:"updatedAt"`
}

type Comment struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	User      primitive.ObjectID `bson:"user" json:"userId"`
	Text      string             `bson:"text" json:"text"`
	Replies   []Reply            `bson:"replies" json:"replies"`
	Reactions []Reaction         `bson:"reactions" json:"reactions"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type Reply struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	User      primitive.ObjectID `bson:"user" json:"userId"`
	Text      string             `bson:"text" json:"text"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type Reaction struct {
	User  primitive.ObjectID `bson:"user" json:"userId"`
	Emoji string             `bson:"emoji" json:"emoji"`
}

func NewComment(userID primitive.ObjectID, text string) Comment {
	return Comment{
		ID:        primitive.NewObjectID(),
		User:      userID,
		Text:      text,
		Replies:   []Reply{},
		Reactions: []Reaction{},
		CreatedAt: time.Now().UTC(),
	}
}

func NewReply(userID primitive.ObjectID, text string) Reply {
	return Reply{
		ID:        primitive.NewObjectID(),
		User:      userID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

func (b *Blog) IsAuthor(userID primitive.ObjectID) bool {
	return b.Author == userID
}

func (b *Blog) HasLiked(userID primitive.ObjectID) bool {
	return containsID(b.Likes, userID)
}

// VisibleTo reports whether viewer may read the blog. Drafts belong to their author only.
func (b *Blog) VisibleTo(viewer primitive.ObjectID) bool {
	return b.Status != StatusDraft || b.Author == viewer
}

// FindComment returns a pointer into b.Comments, or nil.
func (b *Blog) FindComment(id primitive.ObjectID) *Comment {
	for i := range b.Comments {
		if b.Comments[i].ID == id {
			return &b.Comments[i]
		}
	}
	return nil
}

func (c *Comment) FindReply(id primitive.ObjectID) *Reply {
	for i := range c.Replies {
		if c.Replies[i].ID == id {
			return &c.Replies[i]
		}
	}
	return nil
}

// ToggleReaction applies one user's emoji to the comment. Each user holds at
// most one reaction per comment: the same emoji again removes it, a different
// one replaces it. It reports whether a reaction is present afterwards.
func (c *Comment) ToggleReaction(userID primitive.ObjectID, emoji string) bool {
	for i, r := range c.Reactions {
		if r.User != userID {
			continue
		}
		if r.Emoji == emoji {
			c.Reactions = append(c.Reactions[:i], c.Reactions[i+1:]...)
			return false
		}
		c.Reactions[i].Emoji = emoji
		return true
	}
	c.Reactions = append(c.Reactions, Reaction{User: userID, Emoji: emoji})
	return true
}

// ReactionCounts groups reactions by emoji.
func (c *Comment) ReactionCounts() map[string]int {
	counts := make(map[string]int, len(c.Reactions))
	for _, r := range c.Reactions {
		counts[r.Emoji]++
	}
	return counts
}
