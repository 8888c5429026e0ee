package rest

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"voicesurvey/internal/metrics"
	"voicesurvey/internal/service"
	"voicesurvey/internal/transport/rest/handler"
	"voicesurvey/internal/transport/rest/middleware"
	"voicesurvey/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService          *service.AuthService
	SurveyService        *service.SurveyService
	EvaluatorService     *service.EvaluatorService
	TranscriptionService *service.TranscriptionService
	WSHandler            *ws.Handler
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService)
	surveyHandler := handler.NewSurveyHandler(c.SurveyService)
	voiceHandler := handler.NewVoiceHandler(c.TranscriptionService, c.EvaluatorService)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware)

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	v1.HandleFunc("/surveys/{surveyId}/respondents", surveyHandler.Enroll).Methods("POST", "OPTIONS")

	// WebSocket routes (public with token in query param)
	if c.WSHandler != nil {
		v1.HandleFunc("/ws/surveys/{surveyId}/host", c.WSHandler.HostWS).Methods("GET")
		v1.HandleFunc("/ws/surveys/{surveyId}/voice", c.WSHandler.VoiceWS).Methods("GET")
	}

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Host routes (require host auth)
	hostRoutes := v1.NewRoute().Subrouter()
	hostRoutes.Use(authMW.RequireHost)

	hostRoutes.HandleFunc("/surveys/{surveyId}/sessions", surveyHandler.Sessions).Methods("GET", "OPTIONS")
	hostRoutes.HandleFunc("/surveys/{surveyId}/responses", surveyHandler.Responses).Methods("GET", "OPTIONS")
	hostRoutes.HandleFunc("/surveys/{surveyId}/stats", surveyHandler.Stats).Methods("GET", "OPTIONS")

	// Respondent routes (require respondent auth)
	respondentRoutes := v1.NewRoute().Subrouter()
	respondentRoutes.Use(authMW.RequireRespondent)

	respondentRoutes.HandleFunc("/surveys/{surveyId}/questions", surveyHandler.Questions).Methods("GET", "OPTIONS")
	respondentRoutes.HandleFunc("/surveys/{surveyId}/answers", surveyHandler.SubmitAnswer).Methods("POST", "OPTIONS")
	respondentRoutes.HandleFunc("/surveys/{surveyId}/complete", surveyHandler.Complete).Methods("POST", "OPTIONS")
	respondentRoutes.HandleFunc("/surveys/{surveyId}/duration", surveyHandler.Duration).Methods("POST", "OPTIONS")
	respondentRoutes.HandleFunc("/voice/transcribe", voiceHandler.Transcribe).Methods("POST", "OPTIONS")
	respondentRoutes.HandleFunc("/voice/sympathy", voiceHandler.Sympathy).Methods("POST", "OPTIONS")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		allowedMethods := os.Getenv("CORS_ALLOWED_METHODS")
		if allowedMethods == "" {
			allowedMethods = "GET, POST, OPTIONS"
		}

		allowedHeaders := os.Getenv("CORS_ALLOWED_HEADERS")
		if allowedHeaders == "" {
			allowedHeaders = "Content-Type, Authorization"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
