package gateway

import (
	"encoding/json"
	"time"

	"github.com/castlab/studio/users"
)

// Inbound event names.
const (
	EventJoinRoom         = "join-room"
	EventLeaveRoom        = "leave-room"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventIceCandidate     = "ice-candidate"
	EventMediaStateChange = "media-state-change"
	EventSendMessage      = "send-message"
)

// Outbound event names.
const (
	EventRoomUsers       = "room-users"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventUserMediaChange = "user-media-change"
	EventNewMessage      = "new-message"
)

// MediaState is the client-reported mute state, both default to on.
type MediaState struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

func DefaultMediaState() MediaState {
	return MediaState{Audio: true, Video: true}
}

type JoinRoomData struct {
	RoomID string `json:"roomId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

// RoomUser is one entry of the room-users listing sent to a joiner.
type RoomUser struct {
	ConnectionID string     `json:"connectionId"`
	UserID       string     `json:"userId"`
	MediaState   MediaState `json:"mediaState"`
}

type UserJoinedData struct {
	ConnectionID string         `json:"connectionId"`
	User         *users.Summary `json:"user"`
}

type UserLeftData struct {
	ConnectionID string `json:"connectionId"`
}

type MediaStateChangeData struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

type UserMediaChangeData struct {
	ConnectionID string     `json:"connectionId"`
	MediaState   MediaState `json:"mediaState"`
}

type NewMessageData struct {
	Sender    *users.Summary `json:"sender"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
}

// Negotiation payloads are relayed opaque, the relay never inspects the
// SDP or candidate contents.

type OfferData struct {
	To    string           `json:"to,omitempty" validate:"required"`
	From  string           `json:"from,omitempty"`
	Offer *json.RawMessage `json:"offer" validate:"required"`
}

type AnswerData struct {
	To     string           `json:"to,omitempty" validate:"required"`
	From   string           `json:"from,omitempty"`
	Answer *json.RawMessage `json:"answer" validate:"required"`
}

type IceCandidateData struct {
	To        string           `json:"to,omitempty" validate:"required"`
	From      string           `json:"from,omitempty"`
	Candidate *json.RawMessage `json:"candidate" validate:"required"`
}
