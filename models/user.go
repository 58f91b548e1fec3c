package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ProviderEmail  = "email"
	ProviderGoogle = "google"
)

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"passwordHash,omitempty" json:"-"`
	AuthProvider string             `bson:"authProvider" json:"authProvider"`
	GoogleID     string             `bson:"googleId,omitempty" json:"-"`

	Name   string `bson:"name" json:"name"`
	Bio    string `bson:"bio" json:"bio"`
	Avatar string `bson:"avatar" json:"avatar"`

	IsVerified               bool       `bson:"isVerified" json:"isVerified"`
	EmailVerificationToken   string     `bson:"emailVerificationToken,omitempty" json:"-"`
	EmailVerificationExpires *time.Time `bson:"emailVerificationExpires,omitempty" json:"-"`
	PasswordResetToken       string     `bson:"passwordResetToken,omitempty" json:"-"`
	PasswordResetExpires     *time.Time `bson:"passwordResetExpires,omitempty" json:"-"`
	RefreshToken             string     `bson:"refreshToken,omitempty" json:"-"`

	LoginAttempts int        `bson:"loginAttempts" json:"-"`
	LockUntil     *time.Time `bson:"lockUntil,omitempty" json:"-"`
	LastLogin     *time.Time `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`

	Following  []primitive.ObjectID `bson:"following" json:"following"`
	Followers  []primitive.ObjectID `bson:"followers" json:"followers"`
	Favourites []primitive.ObjectID `bson:"favourites" json:"favourites"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// NewUser returns a user with every list field initialised, so that
// $addToSet and $pull never meet a null array.
func NewUser(username, email, name string) User {
	now := time.Now().UTC()
	return User{
		ID:           primitive.NewObjectID(),
		Username:     username,
		Email:        email,
		Name:         name,
		AuthProvider: ProviderEmail,
		Following:    []primitive.ObjectID{},
		Followers:    []primitive.ObjectID{},
		Favourites:   []primitive.ObjectID{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsLocked reports whether a login lock is active at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

func (u *User) IsFollowing(id primitive.ObjectID) bool {
	return containsID(u.Following, id)
}

func (u *User) HasFollower(id primitive.ObjectID) bool {
	return containsID(u.Followers, id)
}

func (u *User) HasFavourite(blogID primitive.ObjectID) bool {
	return containsID(u.Favourites, blogID)
}

// UserSummary is the author card embedded in blog and comment responses.
type UserSummary struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	Username string             `bson:"username" json:"username"`
	Name     string             `bson:"name" json:"name"`
	Avatar   string             `bson:"avatar" json:"avatar"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Name: u.Name, Avatar: u.Avatar}
}

// Profile is the public view of another user.
type Profile struct {
	UserSummary
	Bio            string    `json:"bio"`
	FollowersCount int       `json:"followersCount"`
	FollowingCount int       `json:"followingCount"`
	BlogsCount     int64     `json:"blogsCount"`
	IsFollowing    bool      `json:"isFollowing"`
	CreatedAt      time.Time `json:"createdAt"`
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
