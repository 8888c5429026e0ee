package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"voicesurvey/internal/config"
	"voicesurvey/internal/model"
	"voicesurvey/internal/repository"
	"voicesurvey/internal/voice/graph"
)

func main() {
	hostID := flag.String("host", "host_demo", "host id that owns the survey")
	flag.Parse()

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	survey := demoSurvey(*hostID)
	if err := graph.Validate(survey.Questions); err != nil {
		log.Fatalf("Invalid demo survey: %v", err)
	}

	id, err := repository.NewSurveyRepo(client.Database(cfg.MongoDB)).Create(ctx, survey)
	if err != nil {
		log.Fatalf("Failed to insert survey: %v", err)
	}

	fmt.Printf("Successfully created survey '%s' (%s) for host '%s'\n", survey.Title, id, *hostID)
}

// demoSurvey is a smartphone feedback survey with two conditional branches
func demoSurvey(hostID string) *model.Survey {
	return &model.Survey{
		HostID: hostID,
		Title:  "Smartphone Launch Feedback",
		Questions: []model.Question{
			{
				ID:           "satisfaction",
				Text:         "On a scale from 0 to 10, how satisfied are you with your new smartphone?",
				ResponseType: model.ResponseScale,
				ScaleMax:     10,
				Order:        1,
			},
			{
				ID:           "model",
				Text:         "Which model did you buy: Standard, Pro, or Ultra?",
				ResponseType: model.ResponseCategorical,
				Categories:   []string{"Standard", "Pro", "Ultra"},
				Order:        2,
			},
			{
				ID:                      "pro_feature",
				Text:                    "Which Pro feature made you choose it over the Standard model?",
				ResponseType:            model.ResponseOpen,
				ParentID:                "model",
				ParentTriggerCategories: []string{"Pro", "Ultra"},
				Order:                   3,
			},
			{
				ID:           "issues",
				Text:         "Have you run into any problems with the phone so far? Yes or no?",
				ResponseType: model.ResponseCategorical,
				Categories:   []string{"Yes", "No"},
				Order:        4,
			},
			{
				ID:                      "issue_detail",
				Text:                    "What problem did you run into?",
				ResponseType:            model.ResponseOpen,
				ParentID:                "issues",
				ParentTriggerCategories: []string{"Yes"},
				Order:                   5,
			},
			{
				ID:           "improve",
				Text:         "What is one thing you would improve about this smartphone?",
				ResponseType: model.ResponseOpen,
				Order:        6,
			},
		},
	}
}
