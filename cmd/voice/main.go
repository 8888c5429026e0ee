package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"voicesurvey/internal/client"
	"voicesurvey/internal/config"
	"voicesurvey/internal/model"
	"voicesurvey/internal/voice/capture"
	"voicesurvey/internal/voice/conversation"
	"voicesurvey/internal/voice/device"
	"voicesurvey/internal/voice/speech"
	"voicesurvey/internal/voice/tts"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "survey server base URL")
	surveyID := flag.String("survey", "", "survey id")
	token := flag.String("token", "", "existing respondent token (skips enrollment)")
	flag.Parse()

	if *surveyID == "" {
		log.Fatal("-survey is required")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(*server, client.WithToken(*token))
	if *token == "" {
		enrolled, err := api.Enroll(ctx, *surveyID)
		if err != nil {
			log.Fatalf("Failed to enroll: %v", err)
		}
		fmt.Printf("Survey: %s (respondent %s)\n", enrolled.Title, enrolled.RespondentID)
	}

	audioCtx, err := device.NewContext()
	if err != nil {
		log.Fatalf("Audio unavailable: %v", err)
	}
	defer audioCtx.Close()

	var synth tts.Service = tts.Silent{}
	if cfg.Voice.SpeechEnabled() {
		synth = tts.NewOpenAI(cfg.Voice.OpenAIKey,
			tts.WithModel(cfg.Voice.TTSModel),
			tts.WithVoice(cfg.Voice.TTSVoice),
		)
	} else {
		log.Println("OPENAI_API_KEY not set, prompts are printed only")
	}

	speaker := speech.NewQueue(&speech.Voice{TTS: synth, Player: audioCtx.Speaker()})
	recorder := capture.NewSession(audioCtx.Microphone(),
		capture.OnLevel(printLevel),
		capture.WithLevelInterval(100*time.Millisecond),
	)

	finished := make(chan struct{})
	orch := conversation.New(
		conversation.Config{SurveyID: *surveyID, RedirectDelay: cfg.Voice.RedirectDelay},
		api, speaker, recorder,
		conversation.OnItem(printItem),
		conversation.OnNavigate(func() { close(finished) }),
	)
	defer orch.Close()

	if err := begin(ctx, orch); err != nil {
		fmt.Printf("error: %v\n(press Enter to retry)\n", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	fmt.Println("Press Enter to start answering, Enter again to stop. Ctrl+C quits.")
	for {
		select {
		case <-finished:
			return
		case <-ctx.Done():
			return
		case _, ok := <-lines:
			if !ok {
				return
			}
			toggle(ctx, orch)
		}
	}
}

// toggle starts or stops a recording depending on where the conversation is
func toggle(ctx context.Context, orch *conversation.Orchestrator) {
	var err error
	switch orch.State() {
	case conversation.StatePresenting:
		err = orch.StartRecording(ctx)
		if err == nil {
			fmt.Println("● recording... press Enter when done")
		}
	case conversation.StateRecording:
		fmt.Println()
		err = orch.StopRecording(ctx)
	case conversation.StateFailed:
		err = begin(ctx, orch)
	default:
		return
	}

	switch {
	case errors.Is(err, conversation.ErrSpeaking):
		fmt.Println("(wait for the question to finish)")
	case err != nil && !errors.Is(err, conversation.ErrClosed):
		fmt.Printf("error: %v\n", err)
	}
}

// begin loads the survey and presents the first question
func begin(ctx context.Context, orch *conversation.Orchestrator) error {
	if err := orch.Load(ctx); err != nil {
		return err
	}
	return orch.Start(ctx)
}

func printItem(item model.ConversationItem) {
	switch item.Kind {
	case model.ItemQuestion:
		fmt.Printf("\nQ: %s\n", item.Text)
	case model.ItemAnswer:
		fmt.Printf("You: %s\n", item.Text)
	case model.ItemError:
		fmt.Printf("! %s\n", item.Text)
	default:
		fmt.Printf("%s\n", item.Text)
	}
}

// printLevel draws a meter on the current line
func printLevel(level float64) {
	n := int(level * 30)
	fmt.Fprintf(os.Stderr, "\r[%-30s]", strings.Repeat("#", n))
}
