package users

import (
	"context"
	"strings"

	"github.com/castlab/studio/internal/errors"
)

const (
	ErrNotFound     errors.Code = "user not found"
	ErrStoreFailure errors.Code = "user store failure"
)

// User is the persisted identity record, keyed by the external identity id.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	ProfileImage string `json:"profileImage"`
}

// Summary is the identity projection shared with other room members.
type Summary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage"`
}

func (u *User) Summary() *Summary {
	return &Summary{
		ID:           u.ID,
		Name:         strings.TrimSpace(u.FirstName + " " + u.LastName),
		ProfileImage: u.ProfileImage,
	}
}

type Store interface {
	// Resolve returns the user for the external identity id,
	// ErrNotFound when no such user exists.
	Resolve(ctx context.Context, userID string) (*User, error)
}
