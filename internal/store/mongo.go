package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ayush/finalapi/internal/auth"
	"github.com/ayush/finalapi/internal/models"
)

const (
	usersCollection    = "users"
	mongoEmailIndex    = "email_normalized_unique"
	mongoUsernameIndex = "username_normalized_unique"
)

// MongoStore handles user persistence in MongoDB. Case-insensitive uniqueness
// rests on unique indexes over the normalized fields, see EnsureIndexes.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection(usersCollection)}
}

// ConnectMongo connects and pings the primary.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, oops.Code("MONGO_UNAVAILABLE").Wrap(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, oops.Code("MONGO_UNAVAILABLE").Wrap(err)
	}
	return client, nil
}

type userDocument struct {
	ID                 string    `bson:"_id"`
	Username           string    `bson:"username"`
	UsernameNormalized string    `bson:"username_normalized"`
	Email              string    `bson:"email"`
	EmailNormalized    string    `bson:"email_normalized"`
	PasswordHash       string    `bson:"password_hash"`
	Roles              []string  `bson:"roles"`
	CreatedAt          time.Time `bson:"created_at"`
}

func (d userDocument) user() *models.User {
	roles := d.Roles
	if roles == nil {
		roles = []string{}
	}
	return &models.User{
		ID:           d.ID,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Roles:        roles,
		CreatedAt:    d.CreatedAt,
	}
}

// EnsureIndexes creates the unique indexes. It is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_normalized", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(mongoEmailIndex),
		},
		{
			Keys:    bson.D{{Key: "username_normalized", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(mongoUsernameIndex),
		},
	})
	if err != nil {
		return oops.Code("MONGO_INDEX_FAILED").With("collection", usersCollection).Wrap(err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, u *models.User) error {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	doc := userDocument{
		ID:                 u.ID,
		Username:           u.Username,
		UsernameNormalized: auth.NormalizeUsername(u.Username),
		Email:              u.Email,
		EmailNormalized:    auth.NormalizeEmail(u.Email),
		PasswordHash:       u.PasswordHash,
		Roles:              roles,
		CreatedAt:          u.CreatedAt,
	}
	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			msg := err.Error()
			switch {
			case strings.Contains(msg, mongoEmailIndex):
				return oops.Code("USER_DUPLICATE_EMAIL").With("user_id", u.ID).Wrap(auth.ErrDuplicateEmail)
			case strings.Contains(msg, mongoUsernameIndex):
				return oops.Code("USER_DUPLICATE_USERNAME").With("user_id", u.ID).Wrap(auth.ErrDuplicateUsername)
			}
		}
		return oops.Code("USER_CREATE_FAILED").With("user_id", u.ID).Wrap(err)
	}
	return nil
}

func (s *MongoStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email_normalized": auth.NormalizeEmail(email)}, "email")
}

func (s *MongoStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"username_normalized": auth.NormalizeUsername(username)}, "username")
}

func (s *MongoStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"password_hash": hash}})
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}
	if res.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, by string) (*models.User, error) {
	var doc userDocument
	err := s.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").With("by", by).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("by", by).Wrap(err)
	}
	return doc.user(), nil
}

var _ auth.UserRepository = (*MongoStore)(nil)
