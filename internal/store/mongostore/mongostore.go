// Package mongostore implements the course store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
	"github.com/pavelanni/vidquiz/internal/quiz"
)

const (
	usersColl       = "users"
	coursesColl     = "courses"
	progressColl    = "video_progress"
	enrollmentsColl = "enrollments"

	connectTimeout = 10 * time.Second
)

// IsURI reports whether dsn addresses a MongoDB deployment.
func IsURI(dsn string) bool {
	return strings.HasPrefix(dsn, "mongodb://") || strings.HasPrefix(dsn, "mongodb+srv://")
}

// Store is the MongoDB-backed course store. The client is created on first
// use and shared for the lifetime of the process.
type Store struct {
	uri    string
	dbName string
	conn   func() (*mongo.Database, error)
	opened atomic.Bool
}

// New returns a store for database dbName at uri. No connection is made until
// the first operation.
func New(uri, dbName string) *Store {
	s := &Store{uri: uri, dbName: dbName}
	s.conn = sync.OnceValues(s.open)
	return s
}

func (s *Store) open() (*mongo.Database, error) {
	slog.Info("creating mongo client", "db", s.dbName)
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := client.Database(s.dbName)
	if err := ensureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	s.opened.Store(true)
	return db, nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	unique := options.Index().SetUnique(true)
	specs := map[string][]mongo.IndexModel{
		usersColl: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
		},
		coursesColl: {
			{Keys: bson.D{{Key: "video_id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "title_key", Value: 1}}, Options: unique},
		},
		progressColl: {
			{Keys: bson.D{{Key: "user_email", Value: 1}, {Key: "video_id", Value: 1}}, Options: unique},
		},
		enrollmentsColl: {
			{Keys: bson.D{{Key: "user_email", Value: 1}, {Key: "video_id", Value: 1}}, Options: unique},
		},
	}
	for coll, models := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", coll, err)
		}
	}
	return nil
}

// Ping connects if needed and checks the deployment is reachable.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.Client().Ping(ctx, nil)
}

// Close disconnects the client if it was ever created.
func (s *Store) Close() error {
	if !s.opened.Load() {
		return nil
	}
	db, err := s.conn()
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return db.Client().Disconnect(ctx)
}

func (s *Store) coll(name string) (*mongo.Collection, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// TitleKey folds a course title for case-insensitive uniqueness.
func TitleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

type courseDoc struct {
	model.Course `bson:",inline"`
	// Quiz is a list of question documents, or a JSON string in documents
	// written by older deployments.
	Quiz     any    `bson:"quiz"`
	TitleKey string `bson:"title_key"`
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u model.User) error {
	c, err := s.coll(usersColl)
	if err != nil {
		return err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err = c.InsertOne(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), "email") {
			return apperr.ErrEmailTaken
		}
		return apperr.ErrUsernameTaken
	}
	if err != nil {
		return err
	}
	slog.Info("created user", "username", u.Username)
	return nil
}

// GetUserByUsername returns a user by username, or nil if none exists.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

// GetUserByEmail returns a user by email, or nil if none exists.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*model.User, error) {
	c, err := s.coll(usersColl)
	if err != nil {
		return nil, err
	}
	var u model.User
	err = c.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	c, err := s.coll(usersColl)
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	users := []model.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	c, err := s.coll(usersColl)
	if err != nil {
		return 0, err
	}
	n, err := c.CountDocuments(ctx, bson.M{})
	return int(n), err
}

// TitleExists reports whether a course with the same case-folded title exists.
func (s *Store) TitleExists(ctx context.Context, title string) (bool, error) {
	c, err := s.coll(coursesColl)
	if err != nil {
		return false, err
	}
	n, err := c.CountDocuments(ctx, bson.M{"title_key": TitleKey(title)}, options.Count().SetLimit(1))
	return n > 0, err
}

// CreateCourse inserts a course, rejecting case-insensitive title duplicates.
func (s *Store) CreateCourse(ctx context.Context, course model.Course) error {
	exists, err := s.TitleExists(ctx, course.Title)
	if err != nil {
		return fmt.Errorf("check title: %w", err)
	}
	if exists {
		return apperr.ErrTitleTaken
	}
	c, err := s.coll(coursesColl)
	if err != nil {
		return err
	}
	if course.CreatedAt.IsZero() {
		course.CreatedAt = time.Now().UTC()
	}
	if course.Quiz == nil {
		course.Quiz = []model.Question{}
	}
	if course.Answers == nil {
		course.Answers = []string{}
	}
	_, err = c.InsertOne(ctx, courseDoc{Course: course, Quiz: course.Quiz, TitleKey: TitleKey(course.Title)})
	if mongo.IsDuplicateKeyError(err) {
		return apperr.ErrTitleTaken
	}
	if err != nil {
		return err
	}
	slog.Info("course inserted", "video_id", course.VideoID, "title", course.Title)
	return nil
}

// course resolves the stored quiz, whatever its shape, into canonical
// questions.
func (d courseDoc) course() model.Course {
	c := d.Course
	var raw any = d.Quiz
	if _, ok := d.Quiz.(string); !ok {
		// Decoded documents are bson.D; round-trip through relaxed
		// extended JSON so the normalizer sees plain JSON values.
		data, err := bson.MarshalExtJSON(bson.M{"quiz": d.Quiz}, false, false)
		if err != nil {
			slog.Warn("unreadable stored quiz", "video_id", c.VideoID, "error", err)
		}
		raw = data
	}
	c.Quiz = quiz.Normalize(raw)
	if len(c.Answers) == 0 {
		c.Answers = quiz.Answers(c.Quiz)
	}
	return c
}

// GetCourse returns the full course document for videoID.
func (s *Store) GetCourse(ctx context.Context, videoID string) (model.Course, error) {
	c, err := s.coll(coursesColl)
	if err != nil {
		return model.Course{}, err
	}
	var doc courseDoc
	err = c.FindOne(ctx, bson.M{"video_id": videoID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Course{}, apperr.ErrCourseNotFound
	}
	if err != nil {
		return model.Course{}, err
	}
	return doc.course(), nil
}

// ListCourses returns all courses without transcript and quiz, newest first.
func (s *Store) ListCourses(ctx context.Context) ([]model.CourseSummary, error) {
	c, err := s.coll(coursesColl)
	if err != nil {
		return nil, err
	}
	opts := options.Find().
		SetProjection(bson.M{
			"_id": 0, "video_id": 1, "course_title": 1, "course_video_name": 1,
			"passing_criteria": 1, "created_at": 1,
		}).
		SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := c.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	out := []model.CourseSummary{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListQuizzes returns every course with its quiz, newest first.
func (s *Store) ListQuizzes(ctx context.Context) ([]model.Course, error) {
	c, err := s.coll(coursesColl)
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var docs []courseDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Course, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.course())
	}
	return out, nil
}

// DeleteCourse removes the course with videoID.
func (s *Store) DeleteCourse(ctx context.Context, videoID string) error {
	c, err := s.coll(coursesColl)
	if err != nil {
		return err
	}
	res, err := c.DeleteOne(ctx, bson.M{"video_id": videoID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperr.ErrCourseNotFound
	}
	slog.Info("course deleted", "video_id", videoID)
	return nil
}

// UpsertProgress stores the latest progress for (userEmail, videoID).
func (s *Store) UpsertProgress(ctx context.Context, userEmail, videoID string, progressTime float64) error {
	c, err := s.coll(progressColl)
	if err != nil {
		return err
	}
	_, err = c.UpdateOne(ctx,
		bson.M{"user_email": userEmail, "video_id": videoID},
		bson.M{"$set": bson.M{"progress_time": progressTime, "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}

// GetProgress returns the stored progress for (userEmail, videoID).
func (s *Store) GetProgress(ctx context.Context, userEmail, videoID string) (model.Progress, error) {
	c, err := s.coll(progressColl)
	if err != nil {
		return model.Progress{}, err
	}
	var p model.Progress
	err = c.FindOne(ctx, bson.M{"user_email": userEmail, "video_id": videoID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return p, apperr.ErrProgressNotFound
	}
	return p, err
}

// UpsertEnrollment records an enrollment, keeping the first enrollment time.
func (s *Store) UpsertEnrollment(ctx context.Context, userEmail, videoID, courseName string) error {
	c, err := s.coll(enrollmentsColl)
	if err != nil {
		return err
	}
	_, err = c.UpdateOne(ctx,
		bson.M{"user_email": userEmail, "video_id": videoID},
		bson.M{
			"$set":         bson.M{"course_name": courseName},
			"$setOnInsert": bson.M{"enrolled_at": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// ListEnrollments returns all enrollments of userEmail, or a not-found error
// when there are none.
func (s *Store) ListEnrollments(ctx context.Context, userEmail string) ([]model.Enrollment, error) {
	c, err := s.coll(enrollmentsColl)
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{"user_email": userEmail},
		options.Find().SetSort(bson.D{{Key: "enrolled_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []model.Enrollment
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperr.ErrEnrollmentNotFound
	}
	return out, nil
}

// ExportCourses builds an export of every stored course.
func (s *Store) ExportCourses(ctx context.Context) (model.CourseExport, error) {
	courses, err := s.ListQuizzes(ctx)
	if err != nil {
		return model.CourseExport{}, fmt.Errorf("list courses: %w", err)
	}
	return model.CourseExport{ExportedAt: time.Now().UTC(), Count: len(courses), Courses: courses}, nil
}
