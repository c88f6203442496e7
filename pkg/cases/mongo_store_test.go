package cases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"emergency-rescue-system/pkg/security"
)

func testCipher(t *testing.T) *security.FieldCipher {
	t.Helper()
	c, err := security.NewFieldCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return c
}

func storedCase(t *testing.T, cipher *security.FieldCipher, id primitive.ObjectID, status Status, rescueID string) bson.D {
	t.Helper()
	phone, err := cipher.Encrypt("0812345678")
	require.NoError(t, err)
	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "user_id", Value: "U1"},
		{Key: "reporter_name", Value: "Somchai"},
		{Key: "reporter_phone_enc", Value: phone},
		{Key: "report_type", Value: string(TypeFire)},
		{Key: "description", Value: "-"},
		{Key: "images", Value: bson.A{}},
		{Key: "latitude", Value: 13.75},
		{Key: "longitude", Value: 100.50},
		{Key: "status", Value: string(status)},
		{Key: "active", Value: !status.Terminal()},
		{Key: "rescue_id", Value: rescueID},
		{Key: "created_at", Value: created},
		{Key: "updated_at", Value: created},
	}
}

func startedCommand(mt *mtest.T, name string) bson.Raw {
	for _, evt := range mt.GetAllStartedEvents() {
		if evt.CommandName == name {
			return evt.Command
		}
	}
	mt.Fatalf("no %s command was sent", name)
	return nil
}

func TestFilterDocument(t *testing.T) {
	assert.Equal(t, bson.M{}, filterDocument(Filter{}))
	assert.Equal(t, bson.M{
		"rescue_id": "R1",
		"status":    bson.M{"$in": JobStatuses},
	}, filterDocument(Filter{RescueID: "R1", Statuses: JobStatuses, Limit: 3}))
	assert.Equal(t, bson.M{
		"user_id": "U1",
		"status":  bson.M{"$in": ActiveStatuses},
	}, filterDocument(Filter{ReporterID: "U1", Statuses: ActiveStatuses}))
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	cipher := testCipher(t)
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	mt.Run("ensure indexes creates unique active-reporter index", func(mt *mtest.T) {
		store := &MongoStore{coll: mt.Coll, cipher: cipher}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, store.EnsureIndexes(context.Background()))

		var cmd struct {
			Indexes []struct {
				Name    string `bson:"name"`
				Unique  bool   `bson:"unique"`
				Partial bson.M `bson:"partialFilterExpression"`
			} `bson:"indexes"`
		}
		require.NoError(mt, bson.Unmarshal(startedCommand(mt, "createIndexes"), &cmd))
		found := false
		for _, idx := range cmd.Indexes {
			if idx.Name == activeReporterIndex {
				found = true
				assert.True(mt, idx.Unique)
				assert.Equal(mt, bson.M{"active": true}, idx.Partial)
			}
		}
		assert.True(mt, found)
	})

	mt.Run("insert marks the case active and encrypts the phone", func(mt *mtest.T) {
		store := &MongoStore{coll: mt.Coll, cipher: cipher}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		c := &Case{ReporterID: "U1", ReporterPhone: "0812345678", Status: StatusPending}
		require.NoError(mt, store.Insert(context.Background(), c))
		assert.Len(mt, c.ID, 24)

		docs := startedCommand(mt, "insert").Lookup("documents").Array()
		values, err := docs.Values()
		require.NoError(mt, err)
		require.Len(mt, values, 1)
		doc := values[0].Document()
		assert.True(mt, doc.Lookup("active").Boolean())
		assert.NotEqual(mt, "0812345678", doc.Lookup("reporter_phone_enc").StringValue())
	})

	mt.Run("insert duplicate active case", func(mt *mtest.T) {
		store := &MongoStore{coll: mt.Coll, cipher: cipher}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: rescue_db.cases index: " + activeReporterIndex,
		}))

		err := store.Insert(context.Background(), &Case{ReporterID: "U1", Status: StatusPending})
		assert.ErrorIs(mt, err, ErrActiveCaseExists)
	})

	mt.Run("accept is conditional on status and rescuer", func(mt *mtest.T) {
		store := &MongoStore{coll: mt.Coll, cipher: cipher}
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: storedCase(mt.T, cipher, id, StatusAccepted, "R1")},
		))

		got, err := store.Apply(context.Background(), Transition{
			CaseID:          id.Hex(),
			From:            StatusAssigned,
			To:              StatusAccepted,
			RequireRescueID: "R1",
			SetRescueID:     "R1",
		}, at)
		require.NoError(mt, err)
		assert.Equal(mt, StatusAccepted, got.Status)
		assert.Equal(mt, "0812345678", got.ReporterPhone)

		cmd := startedCommand(mt, "findAndModify")
		query := cmd.Lookup("query").Document()
		assert.Equal(mt, id, query.Lookup("_id").ObjectID())
		assert.Equal(mt, string(StatusAssigned), query.Lookup("status").StringValue())
		assert.Equal(mt, "R1", query.Lookup("rescue_id").StringValue())
		set := cmd.Lookup("update", "$set").Document()
		assert.Equal(mt, string(StatusAccepted), set.Lookup("status").StringValue())
	})

	mt.Run("close clears the active flag", func(mt *mtest.T) {
		store := &MongoStore{coll: mt.Coll, cipher: cipher}
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: storedCase(mt.T, cipher, id, StatusCompleted, "R1")},
		))

		_, err := store.Apply(context.Background(), Transition{
			CaseID:          id.Hex(),
			From:            StatusAccepted,
			To:              StatusCompleted,
			RequireRescueID: "R1",
			CloseNotes:      "patient transferred",
		}, at)
		require.NoError(mt, err)

		set := startedCommand(mt, "findAndModify").Lookup("update", "$set").Document()
		assert.False(mt, set.Lookup("active").Boolean())
		assert.Equal(mt, "patient transferred", set.Lookup("close_notes").StringValue())
	})

	mt.Run("lost race is an invalid transition", func(mt *mtest.T) {
		store := &MongoStore{coll: mt.Coll, cipher: cipher}
		id := primitive.NewObjectID()
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "_id", Value: 1}, {Key: "n", Value: int64(1)}}),
		)

		_, err := store.Apply(context.Background(), Transition{
			CaseID:          id.Hex(),
			From:            StatusAssigned,
			To:              StatusAccepted,
			RequireRescueID: "R2",
			SetRescueID:     "R2",
		}, at)
		assert.ErrorIs(mt, err, ErrInvalidTransition)
	})

	mt.Run("missing case is not found", func(mt *mtest.T) {
		store := &MongoStore{coll: mt.Coll, cipher: cipher}
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch),
		)

		_, err := store.Apply(context.Background(), Transition{
			CaseID:      primitive.NewObjectID().Hex(),
			From:        StatusPending,
			To:          StatusAssigned,
			SetRescueID: "R1",
		}, at)
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("malformed id is not found without a round trip", func(mt *mtest.T) {
		store := &MongoStore{coll: mt.Coll, cipher: cipher}
		_, err := store.Get(context.Background(), "case-000001")
		assert.ErrorIs(mt, err, ErrNotFound)
		assert.Empty(mt, mt.GetAllStartedEvents())
	})

	mt.Run("find sorts newest first and limits", func(mt *mtest.T) {
		store := &MongoStore{coll: mt.Coll, cipher: cipher}
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, storedCase(mt.T, cipher, id, StatusPending, "")))

		list, err := store.Find(context.Background(), Filter{ReporterID: "U1", Statuses: ActiveStatuses, Limit: 1})
		require.NoError(mt, err)
		require.Len(mt, list, 1)
		assert.Equal(mt, id.Hex(), list[0].ID)

		cmd := startedCommand(mt, "find")
		assert.Equal(mt, "U1", cmd.Lookup("filter", "user_id").StringValue())
		assert.EqualValues(mt, 1, cmd.Lookup("limit").AsInt64())
		assert.EqualValues(mt, -1, cmd.Lookup("sort", "created_at").AsInt64())
	})
}
