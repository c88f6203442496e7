package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emergency-rescue-system/pkg/security"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// caseDocument is the stored shape of a case. The reporter phone is kept
// encrypted; it is never written in clear text.
type caseDocument struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	ReporterID       string             `bson:"user_id"`
	ReporterName     string             `bson:"reporter_name"`
	ReporterPhoneEnc string             `bson:"reporter_phone_enc"`
	ReportType       ReportType         `bson:"report_type"`
	Description      string             `bson:"description"`
	Images           []string           `bson:"images"`
	Latitude         float64            `bson:"latitude"`
	Longitude        float64            `bson:"longitude"`
	Status           Status             `bson:"status"`
	Active           bool               `bson:"active"`
	RescueID         string             `bson:"rescue_id"`
	CloseNotes       string             `bson:"close_notes,omitempty"`
	CreatedAt        time.Time          `bson:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at"`
	AssignedAt       *time.Time         `bson:"assigned_at,omitempty"`
	AcceptedAt       *time.Time         `bson:"accepted_at,omitempty"`
	CompletedAt      *time.Time         `bson:"completed_at,omitempty"`
}

// MongoStore persists cases in a MongoDB collection.
type MongoStore struct {
	coll   *mongo.Collection
	cipher *security.FieldCipher
}

// NewMongoStore wraps the "cases" collection of db.
func NewMongoStore(db *mongo.Database, cipher *security.FieldCipher) *MongoStore {
	return &MongoStore{coll: db.Collection(TableName), cipher: cipher}
}

// activeReporterIndex allows one active case per reporter.
const activeReporterIndex = "one_active_case_per_reporter"

// EnsureIndexes creates the indexes used by the role views and the unique
// partial index behind ErrActiveCaseExists.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "rescue_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetName(activeReporterIndex).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create case indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) toDocument(c *Case) (*caseDocument, error) {
	phone, err := s.cipher.Encrypt(c.ReporterPhone)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt reporter phone: %w", err)
	}
	images := c.Images
	if images == nil {
		images = []string{}
	}
	return &caseDocument{
		ReporterID:       c.ReporterID,
		ReporterName:     c.ReporterName,
		ReporterPhoneEnc: phone,
		ReportType:       c.ReportType,
		Description:      c.Description,
		Images:           images,
		Latitude:         c.Latitude,
		Longitude:        c.Longitude,
		Status:           c.Status,
		Active:           !c.Status.Terminal(),
		RescueID:         c.RescueID,
		CloseNotes:       c.CloseNotes,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		AssignedAt:       c.AssignedAt,
		AcceptedAt:       c.AcceptedAt,
		CompletedAt:      c.CompletedAt,
	}, nil
}

func (s *MongoStore) fromDocument(d *caseDocument) (*Case, error) {
	phone, err := s.cipher.Decrypt(d.ReporterPhoneEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt reporter phone of case %s: %w", d.ID.Hex(), err)
	}
	images := d.Images
	if images == nil {
		images = []string{}
	}
	return &Case{
		ID:            d.ID.Hex(),
		ReporterID:    d.ReporterID,
		ReporterName:  d.ReporterName,
		ReporterPhone: phone,
		ReportType:    d.ReportType,
		Description:   d.Description,
		Images:        images,
		Latitude:      d.Latitude,
		Longitude:     d.Longitude,
		Status:        d.Status,
		RescueID:      d.RescueID,
		CloseNotes:    d.CloseNotes,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		AssignedAt:    d.AssignedAt,
		AcceptedAt:    d.AcceptedAt,
		CompletedAt:   d.CompletedAt,
	}, nil
}

func (s *MongoStore) Insert(ctx context.Context, c *Case) error {
	doc, err := s.toDocument(c)
	if err != nil {
		return err
	}
	doc.ID = primitive.NewObjectID()

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: reporter %s", ErrActiveCaseExists, c.ReporterID)
		}
		return fmt.Errorf("failed to save case: %w", err)
	}
	c.ID = doc.ID.Hex()
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Case, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc caseDocument
	err = s.coll.FindOne(ctx, bson.M{"_id": objID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch case: %w", err)
	}
	return s.fromDocument(&doc)
}

func filterDocument(f Filter) bson.M {
	filter := bson.M{}
	if f.ReporterID != "" {
		filter["user_id"] = f.ReporterID
	}
	if f.RescueID != "" {
		filter["rescue_id"] = f.RescueID
	}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	return filter
}

func (s *MongoStore) Find(ctx context.Context, f Filter) ([]Case, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := s.coll.Find(ctx, filterDocument(f), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cases: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []caseDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode cases: %w", err)
	}

	out := make([]Case, 0, len(docs))
	for i := range docs {
		c, err := s.fromDocument(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// Apply runs a single conditional findOneAndUpdate, so two racing rescuers
// cannot both accept the same case.
func (s *MongoStore) Apply(ctx context.Context, t Transition, at time.Time) (*Case, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	objID, err := primitive.ObjectIDFromHex(t.CaseID)
	if err != nil {
		return nil, ErrNotFound
	}

	filter := bson.M{"_id": objID, "status": t.From}
	if t.RequireRescueID != "" {
		filter["rescue_id"] = t.RequireRescueID
	}

	set := bson.M{"status": t.To, "updated_at": at}
	switch t.To {
	case StatusAssigned:
		set["assigned_at"] = at
	case StatusAccepted:
		set["accepted_at"] = at
	case StatusCompleted:
		set["completed_at"] = at
		set["close_notes"] = t.CloseNotes
		set["active"] = false
	}
	if t.SetRescueID != "" {
		set["rescue_id"] = t.SetRescueID
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc caseDocument
	err = s.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, countErr := s.coll.CountDocuments(ctx, bson.M{"_id": objID})
		if countErr != nil {
			return nil, fmt.Errorf("failed to check case: %w", countErr)
		}
		if n == 0 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: case %s is no longer %s", ErrInvalidTransition, t.CaseID, t.From)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update case status: %w", err)
	}
	return s.fromDocument(&doc)
}
