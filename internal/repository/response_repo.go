package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"voicesurvey/internal/model"
)

var (
	ErrResponseNotFound  = errors.New("response not found")
	ErrInvalidQuestionID = errors.New("question id cannot key an answer")
)

// ResponseRepo stores one document per respondent and survey; answers are
// kept in a map keyed by question id.
type ResponseRepo interface {
	Create(ctx context.Context, resp *model.Response) (string, error)
	Get(ctx context.Context, surveyID, respondentID string) (*model.Response, error)
	SaveAnswer(ctx context.Context, surveyID, respondentID, questionID string, rec model.AnswerRecord) error
	MarkCompleted(ctx context.Context, surveyID, respondentID string, at time.Time) error
	SetDuration(ctx context.Context, surveyID, respondentID string, seconds int) error
	ListBySurvey(ctx context.Context, surveyID string) ([]*model.Response, error)
}

type responseRepo struct {
	collection *mongo.Collection
}

func NewResponseRepo(db *mongo.Database) ResponseRepo {
	return &responseRepo{
		collection: db.Collection("responses"),
	}
}

func byRespondent(surveyID, respondentID string) bson.M {
	return bson.M{"surveyId": surveyID, "respondentId": respondentID}
}

func (r *responseRepo) Create(ctx context.Context, resp *model.Response) (string, error) {
	if resp.StartedAt.IsZero() {
		resp.StartedAt = time.Now()
	}
	if resp.Status == "" {
		resp.Status = model.ResponseInProgress
	}
	if resp.Answers == nil {
		resp.Answers = map[string]model.AnswerRecord{}
	}

	result, err := r.collection.InsertOne(ctx, resp)
	if err != nil {
		return "", err
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		resp.ID = oid.Hex()
	}
	return resp.ID, nil
}

// Get returns nil, nil when the respondent never enrolled
func (r *responseRepo) Get(ctx context.Context, surveyID, respondentID string) (*model.Response, error) {
	var resp model.Response
	err := r.collection.FindOne(ctx, byRespondent(surveyID, respondentID)).Decode(&resp)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *responseRepo) SaveAnswer(ctx context.Context, surveyID, respondentID, questionID string, rec model.AnswerRecord) error {
	if !model.ValidQuestionID(questionID) {
		return fmt.Errorf("%w: %q", ErrInvalidQuestionID, questionID)
	}
	update := bson.M{"$set": bson.M{"answers." + questionID: rec}}
	return r.updateOne(ctx, surveyID, respondentID, update)
}

func (r *responseRepo) MarkCompleted(ctx context.Context, surveyID, respondentID string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"status":      model.ResponseCompleted,
		"completedAt": at,
	}}
	return r.updateOne(ctx, surveyID, respondentID, update)
}

func (r *responseRepo) SetDuration(ctx context.Context, surveyID, respondentID string, seconds int) error {
	update := bson.M{"$set": bson.M{"durationSeconds": seconds}}
	return r.updateOne(ctx, surveyID, respondentID, update)
}

func (r *responseRepo) ListBySurvey(ctx context.Context, surveyID string) ([]*model.Response, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startedAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"surveyId": surveyID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var responses []*model.Response
	if err := cursor.All(ctx, &responses); err != nil {
		return nil, err
	}
	return responses, nil
}

func (r *responseRepo) updateOne(ctx context.Context, surveyID, respondentID string, update bson.M) error {
	result, err := r.collection.UpdateOne(ctx, byRespondent(surveyID, respondentID), update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrResponseNotFound
	}
	return nil
}
