package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the hearth configuration file (~/.config/hearth/config.yaml).
// Pointer fields distinguish "not set" from zero values; a flag given on the
// command line always wins over the file.
type Config struct {
	Model     string `yaml:"model"`
	ModelsDir string `yaml:"models_dir"`
	Backend   string `yaml:"backend"`

	ContextSize *int64 `yaml:"ctx_size"`
	BatchSize   *int64 `yaml:"batch_size"`
	Threads     *int64 `yaml:"threads"`

	MaxTokens     *int64   `yaml:"max_tokens"`
	Seed          *int64   `yaml:"seed"`
	Temperature   *float64 `yaml:"temperature"`
	TopK          *int64   `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	MinP          *float64 `yaml:"min_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	RepeatLastN   *int64   `yaml:"repeat_last_n"`

	Chat ChatConfig `yaml:"chat"`

	StreamMode string `yaml:"stream_mode"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

// ChatConfig shapes chat prompts.
type ChatConfig struct {
	Instruction   *string `yaml:"instruction"`
	UserPrefix    *string `yaml:"user_prefix"`
	AIPrefix      *string `yaml:"ai_prefix"`
	ReversePrompt *string `yaml:"reverse_prompt"`
	Budget        *int64  `yaml:"budget"`
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "hearth", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig runs before the logger is built.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Model != "" && !c.IsSet("model") {
		modelPath = cfg.Model
	}
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.ContextSize != nil && !c.IsSet("ctx-size") {
		contextSize = *cfg.ContextSize
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		batchSize = *cfg.BatchSize
	}
	if cfg.Threads != nil && !c.IsSet("threads") {
		threads = *cfg.Threads
	}
}

func applySamplingConfig(c *cli.Command, cfg Config, o *samplingOptions) {
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") {
		o.maxTokens = *cfg.MaxTokens
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		o.seed = *cfg.Seed
	}
	if cfg.Temperature != nil && !c.IsSet("temp") {
		o.temp = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		o.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		o.topP = *cfg.TopP
	}
	if cfg.MinP != nil && !c.IsSet("min-p") {
		o.minP = *cfg.MinP
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		o.repeatPenalty = *cfg.RepeatPenalty
	}
	if cfg.RepeatLastN != nil && !c.IsSet("repeat-last-n") {
		o.repeatLastN = *cfg.RepeatLastN
	}
}

func applyChatConfig(c *cli.Command, cfg Config, o *chatOptions) {
	if cfg.Chat.Instruction != nil && !c.IsSet("instruction") {
		o.instruction = *cfg.Chat.Instruction
	}
	if cfg.Chat.UserPrefix != nil && !c.IsSet("user-prefix") {
		o.userPrefix = *cfg.Chat.UserPrefix
	}
	if cfg.Chat.AIPrefix != nil && !c.IsSet("ai-prefix") {
		o.aiPrefix = *cfg.Chat.AIPrefix
	}
	if cfg.Chat.ReversePrompt != nil && !c.IsSet("reverse-prompt") {
		o.reversePrompt = *cfg.Chat.ReversePrompt
	}
	if cfg.Chat.Budget != nil && !c.IsSet("budget") {
		o.budget = *cfg.Chat.Budget
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

func applyStreamConfig(c *cli.Command, cfg Config, mode *string) {
	if cfg.StreamMode != "" && !c.IsSet("stream-mode") {
		*mode = cfg.StreamMode
	}
}
