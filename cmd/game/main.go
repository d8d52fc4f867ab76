package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tatianab/storyforge/internal/config"
	"github.com/tatianab/storyforge/internal/game"
	"github.com/tatianab/storyforge/internal/logger"
	"github.com/tatianab/storyforge/internal/provider/gemini"
	"github.com/tatianab/storyforge/internal/storage"
	"github.com/tatianab/storyforge/internal/tui"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Printf("Error loading environment: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(env.Log)
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Open(env, log)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	client := gemini.New(gemini.Options{
		RequestsPerMinute: cfg.Snapshot().RequestsPerMinute,
		Logger:            log,
	})
	if err := cfg.Watch(func(s config.Settings) {
		client.SetRequestsPerMinute(s.RequestsPerMinute)
	}); err != nil {
		log.Warn("settings file will not be watched", zap.Error(err))
	}
	defer cfg.Close()

	store := storage.NewEngine(log)
	session, err := game.New(game.Options{
		Capability: client,
		Config:     cfg,
		Storage:    store,
		Media:      storage.NewMediaStore(env.SaveDir, store),
		SaveDir:    env.SaveDir,
		Logger:     log,
	})
	if err != nil {
		log.Error("creating session", zap.Error(err))
		fmt.Printf("Error creating session: %v\n", err)
		os.Exit(1)
	}

	if err := tui.Run(session); err != nil {
		log.Error("tui exited", zap.Error(err))
		fmt.Printf("Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
