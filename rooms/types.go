package rooms

import (
	"context"
	"time"

	"github.com/castlab/studio/internal/errors"
)

const (
	ErrNotFound     errors.Code = "room not found"
	ErrStoreFailure errors.Code = "room store failure"
)

type RoomType string

const (
	RoomTypeAudioOnly  RoomType = "audio-only"
	RoomTypeAudioVideo RoomType = "audio-video"
)

type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Type         RoomType      `json:"type"`
	OwnerID      string        `json:"ownerId"`
	IsActive     bool          `json:"isActive"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Participant is one roster entry: a single connection's stay in a room.
// LeftAt is unset while the connection is still live.
type Participant struct {
	UserID       string     `json:"userId"`
	ConnectionID string     `json:"connectionId"`
	JoinedAt     time.Time  `json:"joinedAt"`
	LeftAt       *time.Time `json:"leftAt,omitempty"`
}

// Update carries the mutable room fields for partial updates.
type Update struct {
	Name     *string
	IsActive *bool
}

type Store interface {
	// Resolve returns the room record, ErrNotFound when no such room exists.
	Resolve(ctx context.Context, roomID string) (*Room, error)

	Create(ctx context.Context, room *Room) (*Room, error)
	ListByUser(ctx context.Context, userID string) ([]*Room, error)
	Update(ctx context.Context, roomID string, upd Update) (*Room, error)
	Delete(ctx context.Context, roomID string) error

	// Roster operations, used by the signaling relay.
	AppendParticipant(ctx context.Context, roomID string, p Participant) error
	// CloseParticipant stamps leftAt on the open roster entry for the
	// given connection. Closing an already closed or unknown entry is a no-op.
	CloseParticipant(ctx context.Context, roomID, connectionID string, leftAt time.Time) error
	SetActive(ctx context.Context, roomID string, active bool) error
}
