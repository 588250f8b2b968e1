package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rotaryline/guestbook/internal/audio"
	"github.com/rotaryline/guestbook/internal/call"
	"github.com/rotaryline/guestbook/internal/config"
	"github.com/rotaryline/guestbook/internal/enrich"
	"github.com/rotaryline/guestbook/internal/hook"
	"github.com/rotaryline/guestbook/internal/indicator"
	"github.com/rotaryline/guestbook/internal/store"
)

// engineAdapter narrows *audio.Engine to the interface the session expects.
type engineAdapter struct {
	engine *audio.Engine
}

func (a engineAdapter) Play(file string) (call.Handle, error) {
	h, err := a.engine.Play(file)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (a engineAdapter) StartRecording(path string) (call.Handle, error) {
	h, err := a.engine.StartRecording(path)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (a engineAdapter) Stop(h call.Handle) {
	if concrete, ok := h.(*audio.Handle); ok {
		a.engine.Stop(concrete)
	}
}

func main() {
	log.Println("guestbook: starting")

	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, warning := range warnings {
		log.Printf("warning: %s", warning)
	}

	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		log.Fatalf("create recordings directory failed: %v", err)
	}

	st := store.New(cfg.RecordingsDir)
	notifier := indicator.NewFile(cfg.StatusFile)

	engine := audio.NewEngine(audio.Options{
		PlaybackCommand: cfg.PlaybackCommand,
		RecordCommand:   cfg.RecordCommand,
		Device:          cfg.AudioDevice,
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		StopGrace:       cfg.ParsedStopGrace(),
	})

	sensor := hook.NewSensor(hook.NewSysfsReader(cfg.HookGPIOValuePath), hook.Options{
		PollInterval:  cfg.ParsedHookPollInterval(),
		Debounce:      cfg.ParsedHookDebounce(),
		ToggleEnabled: cfg.HookToggleRecordEnabled,
		ToggleCount:   cfg.HookToggleCount,
		ToggleWindow:  cfg.ParsedHookToggleWindow(),
	})

	probe := enrich.NewProbe(cfg.Enrichment.ConnectivityEndpoint, cfg.Enrichment.ParsedConnectivityTTL())

	var processor enrich.Processor
	if cfg.Enrichment.Enabled && cfg.OpenAIAPIKey != "" {
		processor = enrich.NewOpenAIProcessor(cfg.OpenAIAPIKey, enrich.ProcessorOptions{
			Model:            cfg.Enrichment.Model,
			Language:         cfg.Enrichment.Language,
			MaxRetries:       cfg.Enrichment.MaxRetries,
			RetryDelay:       cfg.Enrichment.ParsedRetryDelay(),
			CompressAudio:    cfg.Enrichment.CompressAudio,
			TargetSampleRate: cfg.Enrichment.TargetSampleRate,
			IgnoredNames:     cfg.Enrichment.IgnoredNames,
			Categories:       cfg.Enrichment.Categories,
		})
	}

	var session *call.Session
	queue := enrich.NewQueue(st, processor, probe, func() bool {
		return session == nil || session.Idle()
	}, notifier, enrich.Options{
		Enabled:         cfg.Enrichment.Enabled,
		AutoProcess:     cfg.Enrichment.AutoProcess,
		AllowDuringCall: cfg.Enrichment.AllowDuringCall,
		Cooldown:        cfg.Enrichment.ParsedCooldown(),
		PollInterval:    cfg.Enrichment.ParsedPollInterval(),
		RecordingsDir:   cfg.RecordingsDir,
	})

	session = call.NewSession(engineAdapter{engine: engine}, st, queue, notifier, sensor.Events(), audio.Duration, call.Options{
		RecordingsDir:       cfg.RecordingsDir,
		GreetingsDir:        cfg.GreetingsDir,
		GreetingSound:       cfg.GreetingSound,
		GreetingPromptSound: cfg.GreetingPromptSound,
		BeepSound:           cfg.BeepSound,
		TimeExceededSound:   cfg.TimeExceededSound,
		RecordingLimit:      cfg.ParsedRecordingLimit(),
		MinMessageDuration:  cfg.ParsedMinMessageDuration(),
		MinFileSizeBytes:    cfg.MinFileSizeBytes,
		DeleteInvalid:       cfg.DeleteInvalidRecordings,
	})
	session.OnGreetingSaved(func(path string) error {
		return config.SaveGreetingSound(*configPath, path)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sensor.Run(ctx)
	go queue.Run(ctx)

	sessionDone := make(chan struct{})
	go func() {
		session.Run(ctx)
		close(sessionDone)
	}()

	queue.ResumePending()

	log.Println("guestbook: ready, lift the handset to begin")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("guestbook: shutting down")
	cancel()

	// An in-flight recording is stopped and finalized before exit.
	select {
	case <-sessionDone:
	case <-time.After(5 * time.Second):
		log.Println("warning: session shutdown timed out")
	}
}
