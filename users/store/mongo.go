package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/castlab/studio/internal/errors"
	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/users"
)

const usersCollection = "users"

type userDoc struct {
	ExternalID   string `bson:"externalId"`
	Email        string `bson:"email"`
	FirstName    string `bson:"firstName,omitempty"`
	LastName     string `bson:"lastName,omitempty"`
	ProfileImage string `bson:"profileImage,omitempty"`
}

type mongoStore struct {
	coll   *mongo.Collection
	logger *log.Logger
}

func NewMongoStore(db *mongo.Database, logger *log.Logger) users.Store {
	return &mongoStore{
		coll:   db.Collection(usersCollection),
		logger: logger,
	}
}

func (s *mongoStore) Resolve(ctx context.Context, userID string) (*users.User, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, bson.M{"externalId": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.Newf(users.ErrNotFound, "user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrap(users.ErrStoreFailure, err, "failed to resolve user")
	}

	return &users.User{
		ID:           doc.ExternalID,
		Email:        doc.Email,
		FirstName:    doc.FirstName,
		LastName:     doc.LastName,
		ProfileImage: doc.ProfileImage,
	}, nil
}
