package main

import (
	"fmt"
	"os"
	"time"

	"sn0w/api"
	"sn0w/characters"
	"sn0w/comfy"
	"sn0w/config"
	"sn0w/logger"
	"sn0w/lora"
	"sn0w/prompt"
	"sn0w/relay"
	"sn0w/settings"
	"sn0w/statestore"
)

const defaultPollInterval = 100 * time.Millisecond

func main() {
	cfg, err := settings.LoadConfig()
	if err != nil {
		fmt.Println("Error loading configuration:")
		fmt.Println(err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	dbPath := cfg.Sn0w.DatabasePath
	if dbPath == "" {
		dbPath = "sn0w.db"
	}
	statestore.Init(dbPath)
	defer statestore.Close()

	reader := config.New(cfg.Sn0w.ComfyBaseDir)
	logger.Reload(reader.GetStringList("sn0w.LoggingLevel", []string{"INFORMATIONAL", "WARNING"})...)

	poll := defaultPollInterval
	if cfg.Sn0w.PollIntervalMs > 0 {
		poll = time.Duration(cfg.Sn0w.PollIntervalMs) * time.Millisecond
	}
	holder := relay.New(poll)

	finder := lora.NewFinder(cfg.Lora, reader)

	var chars *characters.Store
	if cfg.Characters.File != "" {
		chars, err = characters.Load(cfg.Characters.File, cfg.Characters.CustomFile, reader)
		if err != nil {
			logger.Warn("Character catalog unavailable", "error", err)
		} else {
			logger.Info("Loaded character catalog", "characters", len(chars.Names())-1)
		}
	}

	// A nil *Enhancer must not end up inside the interface, the runner only
	// nil-checks the interface value.
	var enhancer comfy.Enhancer
	if e := prompt.NewEnhancer(cfg.Gemini); e != nil {
		enhancer = e
	}

	runner := comfy.NewRunner(cfg.ComfyUi, holder, finder, chars, enhancer)

	srv := api.NewServer(holder, reader, cfg.ComfyUi, chars, finder, runner)
	if err := srv.ListenAndServe(cfg.Sn0w.Listen); err != nil {
		logger.Fatal("API server stopped", "error", err)
	}
}
