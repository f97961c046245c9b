package store

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/castlab/studio/internal/errors"
	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/rooms"
)

const roomsCollection = "rooms"

type participantDoc struct {
	UserID       string     `bson:"userId"`
	ConnectionID string     `bson:"connectionId"`
	JoinedAt     time.Time  `bson:"joinedAt"`
	LeftAt       *time.Time `bson:"leftAt,omitempty"`
}

type roomDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Name         string             `bson:"name"`
	Type         string             `bson:"type"`
	OwnerID      string             `bson:"ownerId"`
	IsActive     bool               `bson:"isActive"`
	Participants []participantDoc   `bson:"participants"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

type mongoStore struct {
	coll   *mongo.Collection
	clock  clockwork.Clock
	logger *log.Logger
}

func NewMongoStore(db *mongo.Database, clock clockwork.Clock, logger *log.Logger) rooms.Store {
	return &mongoStore{
		coll:   db.Collection(roomsCollection),
		clock:  clock,
		logger: logger,
	}
}

func (s *mongoStore) Resolve(ctx context.Context, roomID string) (*rooms.Room, error) {
	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		// a malformed id can never match a stored room
		return nil, errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}

	var doc roomDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}
	if err != nil {
		return nil, errors.Wrap(rooms.ErrStoreFailure, err, "failed to resolve room")
	}

	return docToRoom(&doc), nil
}

func (s *mongoStore) Create(ctx context.Context, room *rooms.Room) (*rooms.Room, error) {
	now := s.clock.Now().UTC()
	doc := roomDoc{
		Name:         room.Name,
		Type:         string(room.Type),
		OwnerID:      room.OwnerID,
		IsActive:     true,
		Participants: []participantDoc{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	res, err := s.coll.InsertOne(ctx, &doc)
	if err != nil {
		return nil, errors.Wrap(rooms.ErrStoreFailure, err, "failed to create room")
	}

	doc.ID = res.InsertedID.(primitive.ObjectID)
	s.logger.Info("Created room",
		log.String("roomId", doc.ID.Hex()),
		log.String("ownerId", doc.OwnerID))
	return docToRoom(&doc), nil
}

func (s *mongoStore) ListByUser(ctx context.Context, userID string) ([]*rooms.Room, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"ownerId": userID},
		bson.M{"participants.userId": userID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(rooms.ErrStoreFailure, err, "failed to list rooms")
	}
	defer cursor.Close(ctx)

	var result []*rooms.Room
	for cursor.Next(ctx) {
		var doc roomDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(rooms.ErrStoreFailure, err, "failed to decode room")
		}
		result = append(result, docToRoom(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(rooms.ErrStoreFailure, err, "failed to iterate rooms")
	}
	return result, nil
}

func (s *mongoStore) Update(ctx context.Context, roomID string, upd rooms.Update) (*rooms.Room, error) {
	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}

	set := bson.M{"updatedAt": s.clock.Now().UTC()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.IsActive != nil {
		set["isActive"] = *upd.IsActive
	}

	var doc roomDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}
	if err != nil {
		return nil, errors.Wrap(rooms.ErrStoreFailure, err, "failed to update room")
	}
	return docToRoom(&doc), nil
}

func (s *mongoStore) Delete(ctx context.Context, roomID string) error {
	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return errors.Wrap(rooms.ErrStoreFailure, err, "failed to delete room")
	}
	if res.DeletedCount == 0 {
		return errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}

	s.logger.Info("Deleted room", log.String("roomId", roomID))
	return nil
}

func (s *mongoStore) AppendParticipant(ctx context.Context, roomID string, p rooms.Participant) error {
	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}

	entry := participantDoc{
		UserID:       p.UserID,
		ConnectionID: p.ConnectionID,
		JoinedAt:     p.JoinedAt.UTC(),
	}
	res, err := s.coll.UpdateByID(ctx, oid, bson.M{"$push": bson.M{"participants": entry}})
	if err != nil {
		return errors.Wrap(rooms.ErrStoreFailure, err, "failed to append roster entry")
	}
	if res.MatchedCount == 0 {
		return errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}
	return nil
}

func (s *mongoStore) CloseParticipant(ctx context.Context, roomID, connectionID string, leftAt time.Time) error {
	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}

	// the entry is targeted by connectionId so concurrent stays of the
	// same user never close each other's roster entries
	update := bson.M{"$set": bson.M{"participants.$[elem].leftAt": leftAt.UTC()}}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: bson.A{bson.M{
			"elem.connectionId": connectionID,
			"elem.leftAt":       bson.M{"$exists": false},
		}},
	})

	_, err = s.coll.UpdateByID(ctx, oid, update, opts)
	if err != nil {
		return errors.Wrap(rooms.ErrStoreFailure, err, "failed to close roster entry")
	}
	return nil
}

func (s *mongoStore) SetActive(ctx context.Context, roomID string, active bool) error {
	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return errors.Newf(rooms.ErrNotFound, "room %s", roomID)
	}

	update := bson.M{"$set": bson.M{
		"isActive":  active,
		"updatedAt": s.clock.Now().UTC(),
	}}
	if _, err := s.coll.UpdateByID(ctx, oid, update); err != nil {
		return errors.Wrap(rooms.ErrStoreFailure, err, "failed to set room active flag")
	}
	return nil
}

func docToRoom(doc *roomDoc) *rooms.Room {
	participants := make([]rooms.Participant, 0, len(doc.Participants))
	for _, p := range doc.Participants {
		participants = append(participants, rooms.Participant{
			UserID:       p.UserID,
			ConnectionID: p.ConnectionID,
			JoinedAt:     p.JoinedAt,
			LeftAt:       p.LeftAt,
		})
	}
	return &rooms.Room{
		ID:           doc.ID.Hex(),
		Name:         doc.Name,
		Type:         rooms.RoomType(doc.Type),
		OwnerID:      doc.OwnerID,
		IsActive:     doc.IsActive,
		Participants: participants,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}
