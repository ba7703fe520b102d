// Package mongodb implements storage.Storage on top of a MongoDB
// collection using the official driver.
//
// Each Open dials a fresh client and each Close disconnects it, so a
// request never shares a connection with another one.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aanand-mishra/student-records-api/internal/storage"
	"github.com/aanand-mishra/student-records-api/internal/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NameIndex is the unique index on the (firstName, lastName) pair.
const NameIndex = "firstName_lastName_ci"

// Document keys.
const (
	idKey        = "_id"
	firstNameKey = "firstName"
	lastNameKey  = "lastName"
	gpaKey       = "gpa"
	enrolledKey  = "enrolled"
)

// nameCollation compares strings ignoring case (strength 2 keeps
// diacritics significant). The unique index and the duplicate lookup use
// the same collation so the lookup can be served by the index. ICU
// equality at this strength is a little wider than case folding: "ß"
// equals "ss", and ignorable code points such as U+00AD are skipped.
var nameCollation = &options.Collation{Locale: "en", Strength: 2}

type Options struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration

	// SkipUniqueIndex leaves out NameIndex.
	SkipUniqueIndex bool
}

// MongoDB is the concrete implementation of storage.Storage.
type MongoDB struct {
	opts Options

	// indexed is set once NameIndex is known to exist.
	indexed atomic.Bool
}

// New rejects a malformed URI but not an unreachable server: the API keeps
// running and each request answers "cannot connect" until the database is
// back. NameIndex is created here when possible and otherwise on the first
// connection that succeeds.
func New(ctx context.Context, opts Options) (*MongoDB, error) {
	if err := options.Client().ApplyURI(opts.URI).Validate(); err != nil {
		return nil, fmt.Errorf("mongodb.New: %w", err)
	}

	m := &MongoDB{opts: opts}
	m.indexed.Store(opts.SkipUniqueIndex)

	client, err := m.connect(ctx)
	if err != nil {
		slog.Warn("mongodb is not reachable, serving anyway",
			slog.String("error", err.Error()))
		return m, nil
	}
	defer client.Disconnect(ctx)

	m.ensureIndex(ctx, client)

	return m, nil
}

// ensureIndex creates NameIndex unless that already happened. Failures are
// logged and retried on the next connection.
func (m *MongoDB) ensureIndex(ctx context.Context, client *mongo.Client) {
	if m.indexed.Load() {
		return
	}

	_, err := m.collection(client).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: firstNameKey, Value: 1}, {Key: lastNameKey, Value: 1}},
		Options: options.Index().
			SetName(NameIndex).
			SetUnique(true).
			SetCollation(nameCollation),
	})
	if err != nil {
		slog.Warn("cannot create unique name index",
			slog.String("index", NameIndex),
			slog.String("error", err.Error()))
		return
	}

	m.indexed.Store(true)
}

func (m *MongoDB) connect(ctx context.Context) (*mongo.Client, error) {
	clientOpts := options.Client().ApplyURI(m.opts.URI)
	if m.opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(m.opts.ConnectTimeout).
			SetServerSelectionTimeout(m.opts.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	// Connect is lazy; Ping makes an unreachable server fail here rather
	// than on the first query.
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping: %w", err)
	}

	return client, nil
}

func (m *MongoDB) collection(client *mongo.Client) *mongo.Collection {
	return client.Database(m.opts.Database).Collection(m.opts.Collection)
}

// Open dials a client for one request.
func (m *MongoDB) Open(ctx context.Context) (storage.Conn, error) {
	client, err := m.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	m.ensureIndex(ctx, client)

	return &conn{client: client, coll: m.collection(client)}, nil
}

type conn struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func (c *conn) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *conn) FindStudentByName(ctx context.Context, firstName, lastName string) (types.Student, error) {
	var student types.Student

	err := c.coll.FindOne(ctx, nameFilter(firstName, lastName),
		options.FindOne().SetCollation(nameCollation)).Decode(&student)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.Student{}, storage.ErrNotFound
	}
	if err != nil {
		return types.Student{}, fmt.Errorf("FindStudentByName: %w", err)
	}

	return student, nil
}

func (c *conn) CreateStudent(ctx context.Context, student types.Student) error {
	_, err := c.coll.InsertOne(ctx, student)
	if isNameConflict(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("CreateStudent: %w", err)
	}
	return nil
}

func (c *conn) GetStudentByID(ctx context.Context, id int64) (types.Student, error) {
	var student types.Student

	err := c.coll.FindOne(ctx, bson.M{idKey: id}).Decode(&student)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.Student{}, storage.ErrNotFound
	}
	if err != nil {
		return types.Student{}, fmt.Errorf("GetStudentByID: %w", err)
	}

	return student, nil
}

func (c *conn) SearchStudents(ctx context.Context, firstNamePrefix, lastNamePrefix string) ([]types.Student, error) {
	cur, err := c.coll.Find(ctx, prefixFilter(firstNamePrefix, lastNamePrefix))
	if err != nil {
		return nil, fmt.Errorf("SearchStudents: find: %w", err)
	}

	students := []types.Student{}
	if err := cur.All(ctx, &students); err != nil {
		return nil, fmt.Errorf("SearchStudents: decode: %w", err)
	}
	if students == nil {
		students = []types.Student{}
	}

	return students, nil
}

func (c *conn) UpdateStudentByID(ctx context.Context, id int64, student types.Student) error {
	// MatchedCount, not ModifiedCount: rewriting identical values is still
	// an update of an existing record.
	res, err := c.coll.UpdateOne(ctx, bson.M{idKey: id}, updateDocument(student))
	if isNameConflict(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("UpdateStudentByID: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *conn) DeleteStudentByID(ctx context.Context, id int64) error {
	res, err := c.coll.DeleteOne(ctx, bson.M{idKey: id})
	if err != nil {
		return fmt.Errorf("DeleteStudentByID: %w", err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// nameFilter matches the exact pair; case folding comes from the
// collation the query runs with.
func nameFilter(firstName, lastName string) bson.D {
	return bson.D{
		{Key: firstNameKey, Value: firstName},
		{Key: lastNameKey, Value: lastName},
	}
}

// prefixFilter matches names starting with the given text ignoring case.
// The text is quoted so regex metacharacters in a name stay literal.
func prefixFilter(firstNamePrefix, lastNamePrefix string) bson.D {
	return bson.D{
		{Key: firstNameKey, Value: prefixRegex(firstNamePrefix)},
		{Key: lastNameKey, Value: prefixRegex(lastNamePrefix)},
	}
}

func prefixRegex(prefix string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix), Options: "i"}
}

// updateDocument overwrites all four mutable fields. A missing enrollment
// value is unset so the document looks the same as one created without it.
func updateDocument(student types.Student) bson.D {
	set := bson.D{
		{Key: firstNameKey, Value: student.FirstName},
		{Key: lastNameKey, Value: student.LastName},
		{Key: gpaKey, Value: float64(student.GPA)},
	}

	if student.Enrolled == nil {
		return bson.D{
			{Key: "$set", Value: set},
			{Key: "$unset", Value: bson.D{{Key: enrolledKey, Value: ""}}},
		}
	}

	set = append(set, bson.E{Key: enrolledKey, Value: *student.Enrolled})
	return bson.D{{Key: "$set", Value: set}}
}

// isNameConflict tells a violation of NameIndex apart from other duplicate
// keys such as two records created in the same millisecond.
func isNameConflict(err error) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), NameIndex)
}
