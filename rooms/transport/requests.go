package transport

// CreateRoomRequest represents the request to create a room
type CreateRoomRequest struct {
	// Name: display name shown in the studio dashboard
	Name string `json:"name" binding:"required,min=1,max=128"`
	// Type: recording mode, defaults to audio-video
	Type string `json:"type,omitempty" binding:"omitempty,oneof=audio-only audio-video"`
}

// RoomURI represents the room id URL parameter
type RoomURI struct {
	// RoomID: 24 hex characters (Mongo object id)
	RoomID string `uri:"roomId" binding:"required,hexadecimal,len=24"`
}

// UpdateRoomRequest represents a partial room update
type UpdateRoomRequest struct {
	Name     *string `json:"name,omitempty" binding:"omitempty,min=1,max=128"`
	IsActive *bool   `json:"isActive,omitempty"`
}
