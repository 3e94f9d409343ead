package mongo_test

import (
	"context"
	"os"
	"testing"

	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/jobq/store"
	"github.com/xraph/jobq/store/mongo"
	"github.com/xraph/jobq/store/storetest"
)

// Set JOBQ_TEST_MONGO_URI (e.g. mongodb://localhost:27017) to run the
// conformance suite against a live MongoDB.
func TestStoreConformance(t *testing.T) {
	uri := os.Getenv("JOBQ_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("JOBQ_TEST_MONGO_URI not set")
	}

	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	db := client.Database("jobq_conformance")

	storetest.Run(t, func(t *testing.T) store.Store {
		// Each subtest starts from an empty collection.
		if err := db.Collection("jobq_jobs").Drop(context.Background()); err != nil {
			t.Fatalf("drop collection: %v", err)
		}
		s := mongo.New(db)
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}
