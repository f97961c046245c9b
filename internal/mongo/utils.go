package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultPingTimeout = 3 * time.Second
)

func Ping(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	return client.Ping(ctx, readpref.Primary())
}
