package settings

import (
	"sn0w/logger"
)

type (
	Config struct {
		Sn0w       Sn0w             `toml:"sn0w" validate:"required"`
		ComfyUi    ComfyUiConfig    `toml:"comfyui" validate:"required"`
		Lora       LoraConfig       `toml:"lora"`
		Characters CharactersConfig `toml:"characters"`
		Gemini     GeminiConfig     `toml:"gemini"`
		Logging    logger.Config    `toml:"logging" validate:"required"`
	}

	Sn0w struct {
		Listen         string `toml:"listen" validate:"required,hostname_port"`
		ComfyBaseDir   string `toml:"comfyBaseDir" validate:"required"`
		PollIntervalMs int    `toml:"pollIntervalMs" validate:"gte=0"`
		DatabasePath   string `toml:"databasePath"`
	}

	ComfyUiConfig struct {
		Url         string `toml:"url" validate:"required"`
		Port        int    `toml:"port" validate:"required"`
		WorkflowDir string `toml:"workflowDir" validate:"required"`
	}

	LoraConfig struct {
		Dirs     []string `toml:"dirs"`
		XlDirs   []string `toml:"xlDirs"`
		Sd15Dirs []string `toml:"sd15Dirs"`
	}

	CharactersConfig struct {
		File       string `toml:"file"`
		CustomFile string `toml:"customFile"`
	}

	GeminiConfig struct {
		ApiKey string `toml:"apiKey"`
		Model  string `toml:"model"`
	}
)
