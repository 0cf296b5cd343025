package principal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoRepository stores principals as documents in a MongoDB collection.
type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(db *mongo.Database, collection string) *MongoRepository {
	if collection == "" {
		collection = "principals"
	}
	return &MongoRepository{coll: db.Collection(collection)}
}

// EnsureIndexes creates the uniqueness constraints the lookups rely on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "usernameKey", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "externalSubject", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("%w: create indexes: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, p *Principal) error {
	if _, err := r.coll.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *MongoRepository) ByID(ctx context.Context, id string) (*Principal, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *MongoRepository) ByEmail(ctx context.Context, normalizedEmail string) (*Principal, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: normalizedEmail}})
}

func (r *MongoRepository) ByUsername(ctx context.Context, usernameKey string) (*Principal, error) {
	if usernameKey == "" {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, bson.D{{Key: "usernameKey", Value: usernameKey}})
}

func (r *MongoRepository) ByExternalSubject(ctx context.Context, subject string) (*Principal, error) {
	if subject == "" {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, bson.D{{Key: "externalSubject", Value: subject}})
}

func (r *MongoRepository) SetExternalSubject(ctx context.Context, id, subject string) error {
	// Link only when unlinked or already linked to the same subject.
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "externalSubject", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "externalSubject", Value: ""}},
			bson.D{{Key: "externalSubject", Value: subject}},
		}},
	}
	res, err := r.coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: bson.D{
		{Key: "externalSubject", Value: subject},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.ByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyLinked
	}
	return nil
}

func (r *MongoRepository) SetPasswordHash(ctx context.Context, id, hash string) error {
	return r.set(ctx, id, bson.D{{Key: "passwordHash", Value: hash}})
}

func (r *MongoRepository) SetStatus(ctx context.Context, id string, status Status) error {
	return r.set(ctx, id, bson.D{{Key: "status", Value: status}})
}

func (r *MongoRepository) SetRoles(ctx context.Context, id string, roles []Role) error {
	return r.set(ctx, id, bson.D{{Key: "roles", Value: roles}})
}

func (r *MongoRepository) SetOverrides(ctx context.Context, id string, o Overrides) error {
	return r.set(ctx, id, bson.D{{Key: "overrides", Value: o}})
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.D) (*Principal, error) {
	var p Principal
	if err := r.coll.FindOne(ctx, filter).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &p, nil
}

func (r *MongoRepository) set(ctx context.Context, id string, fields bson.D) error {
	fields = append(fields, bson.E{Key: "updatedAt", Value: time.Now().UTC()})
	res, err := r.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: fields}})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UnmarshalBSONValue resolves a stored role tag through the alias table. A
// tag outside the table decodes to an invalid Role, which grants nothing.
func (r *Role) UnmarshalBSONValue(typ byte, data []byte) error {
	tag, ok := bson.RawValue{Type: bson.Type(typ), Value: data}.StringValueOK()
	if !ok {
		return fmt.Errorf("role stored as bson %s, want string", bson.Type(typ))
	}
	if parsed, err := ParseRole(tag); err == nil {
		*r = parsed
		return nil
	}
	*r = Role(tag)
	return nil
}
