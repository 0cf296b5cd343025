package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type sessionDocument struct {
	ID           string     `bson:"_id"`
	PrincipalID  string     `bson:"principalId"`
	TokenHash    string     `bson:"tokenHash"`
	CreatedAt    time.Time  `bson:"createdAt"`
	ExpiresAt    time.Time  `bson:"expiresAt"`
	Revoked      bool       `bson:"revoked"`
	RevokeReason string     `bson:"revokeReason,omitempty"`
	RevokedAt    *time.Time `bson:"revokedAt,omitempty"`
	Method       string     `bson:"method"`
	IP           string     `bson:"ip,omitempty"`
	UserAgent    string     `bson:"userAgent,omitempty"`
	Device       string     `bson:"device,omitempty"`
	RotatedFrom  string     `bson:"rotatedFrom,omitempty"`
	ReplacedBy   string     `bson:"replacedBy,omitempty"`
	LastUsedAt   *time.Time `bson:"lastUsedAt,omitempty"`
}

// MongoStore keeps refresh sessions as MongoDB documents. Documents are
// never deleted.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = "refresh_sessions"
	}
	return &MongoStore{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique secret-hash index and the principal index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tokenHash", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "principalId", Value: 1}, {Key: "revoked", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("%w: create indexes: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.PrincipalID == "" {
		return errors.New("session requires id and principal id")
	}
	if _, err := s.coll.InsertOne(ctx, toDocument(sess)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var doc sessionDocument
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fromDocument(&doc)
}

// Rotate uses a conditional update (active, unexpired, matching hash) as the
// compare-and-swap; only one concurrent caller can match the filter. On a
// miss the current document is re-read to report why.
func (s *MongoStore) Rotate(ctx context.Context, sessionID string, presentedHash [32]byte, next *Session) error {
	if next == nil || next.ID == "" {
		return errors.New("rotation requires a successor session")
	}
	now := time.Now().UTC()
	next.RotatedFrom = sessionID

	filter := bson.D{
		{Key: "_id", Value: sessionID},
		{Key: "revoked", Value: false},
		{Key: "tokenHash", Value: hex.EncodeToString(presentedHash[:])},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "revoked", Value: true},
		{Key: "revokeReason", Value: ReasonRotated},
		{Key: "revokedAt", Value: now},
		{Key: "replacedBy", Value: next.ID},
		{Key: "lastUsedAt", Value: now},
	}}}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.ModifiedCount == 0 {
		return s.classifyMiss(ctx, sessionID, presentedHash, now)
	}

	return s.Create(ctx, next)
}

func (s *MongoStore) classifyMiss(ctx context.Context, sessionID string, presentedHash [32]byte, now time.Time) error {
	cur, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	switch {
	case cur.Revoked:
		return ErrRevoked
	case !now.Before(cur.ExpiresAt):
		return ErrExpired
	case cur.SecretHash != presentedHash:
		return ErrMismatch
	default:
		// Lost a race that has since been resolved the other way.
		return ErrRevoked
	}
}

func (s *MongoStore) Revoke(ctx context.Context, sessionID, reason string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}, {Key: "revoked", Value: false}},
		revokeUpdate(reason, time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	return nil
}

func (s *MongoStore) RevokeAll(ctx context.Context, principalID, reason string) (int, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.D{{Key: "principalId", Value: principalID}, {Key: "revoked", Value: false}},
		revokeUpdate(reason, time.Now().UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(res.ModifiedCount), nil
}

func (s *MongoStore) ListByPrincipal(ctx context.Context, principalID string) ([]*Session, error) {
	cur, err := s.coll.Find(ctx, bson.D{{Key: "principalId", Value: principalID}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var docs []sessionDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]*Session, 0, len(docs))
	for i := range docs {
		sess, err := fromDocument(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func revokeUpdate(reason string, at time.Time) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "revoked", Value: true},
		{Key: "revokeReason", Value: reason},
		{Key: "revokedAt", Value: at},
	}}}
}

func toDocument(sess *Session) *sessionDocument {
	doc := &sessionDocument{
		ID:           sess.ID,
		PrincipalID:  sess.PrincipalID,
		TokenHash:    hex.EncodeToString(sess.SecretHash[:]),
		CreatedAt:    sess.CreatedAt.UTC(),
		ExpiresAt:    sess.ExpiresAt.UTC(),
		Revoked:      sess.Revoked,
		RevokeReason: sess.RevokeReason,
		Method:       sess.Method,
		IP:           sess.Metadata.IP,
		UserAgent:    sess.Metadata.UserAgent,
		Device:       sess.Metadata.Device,
		RotatedFrom:  sess.RotatedFrom,
		ReplacedBy:   sess.ReplacedBy,
	}
	if !sess.RevokedAt.IsZero() {
		t := sess.RevokedAt.UTC()
		doc.RevokedAt = &t
	}
	if !sess.LastUsedAt.IsZero() {
		t := sess.LastUsedAt.UTC()
		doc.LastUsedAt = &t
	}
	return doc
}

func fromDocument(doc *sessionDocument) (*Session, error) {
	hash, err := hex.DecodeString(doc.TokenHash)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("%w: invalid token hash on session %s", ErrUnavailable, doc.ID)
	}
	sess := &Session{
		ID:           doc.ID,
		PrincipalID:  doc.PrincipalID,
		CreatedAt:    doc.CreatedAt,
		ExpiresAt:    doc.ExpiresAt,
		Revoked:      doc.Revoked,
		RevokeReason: doc.RevokeReason,
		Method:       doc.Method,
		Metadata:     Metadata{IP: doc.IP, UserAgent: doc.UserAgent, Device: doc.Device},
		RotatedFrom:  doc.RotatedFrom,
		ReplacedBy:   doc.ReplacedBy,
	}
	copy(sess.SecretHash[:], hash)
	if doc.RevokedAt != nil {
		sess.RevokedAt = *doc.RevokedAt
	}
	if doc.LastUsedAt != nil {
		sess.LastUsedAt = *doc.LastUsedAt
	}
	return sess, nil
}
