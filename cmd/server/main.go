package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"voicesurvey/internal/cache"
	"voicesurvey/internal/config"
	"voicesurvey/internal/repository"
	"voicesurvey/internal/service"
	"voicesurvey/internal/transport/rest"
	"voicesurvey/internal/transport/ws"
	"voicesurvey/internal/voice/stt"
	"voicesurvey/internal/voice/tts"
)

func main() {
	log.Println("started")
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Log AI model settings
	log.Printf("AI Config:")
	log.Printf("  Sympathy: %s", cfg.AI.Models.Sympathy)
	log.Printf("  Mapping:  %s", cfg.AI.Models.Mapping)
	if cfg.AI.IsEnabled() {
		log.Println("  API Key:  configured")
	} else {
		log.Println("  API Key:  NOT SET (using mock evaluator)")
	}
	if cfg.Voice.SpeechEnabled() {
		log.Printf("Voice: STT %s, TTS %s/%s", cfg.Voice.STTModel, cfg.Voice.TTSModel, cfg.Voice.TTSVoice)
	} else {
		log.Println("Voice: OPENAI_API_KEY not set (transcription disabled, silent speech)")
	}

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		log.Fatal("Failed to ping MongoDB:", err)
	}
	log.Println("Connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal("Failed to ping Redis:", err)
	}
	log.Println("Connected to Redis")

	// Initialize WebSocket hub
	wsHub := ws.NewHub()
	defer wsHub.Close()
	log.Println("WebSocket hub started")

	// Initialize repositories
	surveyRepo := repository.NewSurveyRepo(db)
	responseRepo := repository.NewResponseRepo(db)

	// Initialize caches
	sessionCache := cache.NewSessionCache(rdb, cfg.SessionTTL)
	sympathyCache := cache.NewSympathyCache(rdb)
	analyticsCache := cache.NewAnalyticsCache(rdb)

	// Speech providers
	var (
		transcriber stt.Service = stt.Unavailable{}
		synth       tts.Service = tts.Silent{}
	)
	if cfg.Voice.SpeechEnabled() {
		transcriber = stt.NewOpenAI(cfg.Voice.OpenAIKey,
			stt.WithModel(cfg.Voice.STTModel),
			stt.WithLanguage(cfg.Voice.STTLanguage),
		)
		synth = tts.NewOpenAI(cfg.Voice.OpenAIKey,
			tts.WithModel(cfg.Voice.TTSModel),
			tts.WithVoice(cfg.Voice.TTSVoice),
		)
	}

	// Initialize services
	authSvc := service.NewAuthService(cfg.HostUsername, cfg.HostPassword, cfg.JWTSecret, 0)
	evaluator := service.NewEvaluatorService(ctx, cfg.AI, sympathyCache)
	transcriptionSvc := service.NewTranscriptionService(transcriber)
	surveySvc := service.NewSurveyService(surveyRepo, responseRepo, sessionCache, authSvc, service.NewMatcher(evaluator))

	// Inject broadcaster (wsHub implements service.Broadcaster)
	surveySvc.SetBroadcaster(wsHub)
	surveySvc.SetAnalytics(analyticsCache)

	wsHandler := ws.NewHandler(wsHub, authSvc, surveySvc, evaluator, transcriptionSvc, synth, ws.VoiceConfig{
		RedirectDelay: cfg.Voice.RedirectDelay,
		LevelInterval: cfg.Voice.LevelInterval,
	})

	// Create router with container
	router := rest.NewRouter(&rest.Container{
		AuthService:          authSvc,
		SurveyService:        surveySvc,
		EvaluatorService:     evaluator,
		TranscriptionService: transcriptionSvc,
		WSHandler:            wsHandler,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server starting on :%s", cfg.HTTPPort)
		log.Printf("Host auth: username=%s", cfg.HostUsername)
		log.Println("Endpoints:")
		log.Println("  POST /v1/auth/login")
		log.Println("  POST /v1/surveys/{surveyId}/respondents")
		log.Println("  GET  /v1/surveys/{surveyId}/questions")
		log.Println("  POST /v1/surveys/{surveyId}/answers|complete|duration")
		log.Println("  POST /v1/voice/transcribe|sympathy")
		log.Println("  GET  /v1/surveys/{surveyId}/sessions|responses|stats")
		log.Println("  WS   /v1/ws/surveys/{surveyId}/host")
		log.Println("  WS   /v1/ws/surveys/{surveyId}/voice")
		log.Println("  GET  /health, /metrics")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}
	log.Println("Server exited")
}
