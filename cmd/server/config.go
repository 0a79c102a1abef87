package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cosentus/chat-widget/internal/handlers"
	"github.com/cosentus/chat-widget/internal/services"
	"github.com/cosentus/chat-widget/internal/typewriter"
	"gopkg.in/yaml.v3"
)

type responderConfig interface {
	responder(systemPrompt string, logger *slog.Logger) (handlers.Responder, error)
}

type config struct {
	Port         string           `yaml:"port"`
	StorePath    string           `yaml:"storePath"`
	SystemPrompt string           `yaml:"systemPrompt"`
	LogLevel     string           `yaml:"logLevel"`
	Typewriter   typewriterConfig `yaml:"typewriter"`
	Responder    responderConfig  `yaml:"responder"`
}

type typewriterConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Frame       time.Duration `yaml:"frame"`
	MinChunk    int           `yaml:"minChunk"`
	MaxChunk    int           `yaml:"maxChunk"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// BaseResponderConfig contains the common fields for all responder configurations.
type BaseResponderConfig struct {
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
}

type openAIAssistantConfig struct {
	BaseResponderConfig `yaml:",inline"`
	APIKey              string        `yaml:"apiKey"`
	AssistantID         string        `yaml:"assistantID"`
	PollInterval        time.Duration `yaml:"pollInterval"`
	PollTimeout         time.Duration `yaml:"pollTimeout"`
}

type retellConfig struct {
	BaseResponderConfig `yaml:",inline"`
	APIKey              string `yaml:"apiKey"`
	AgentID             string `yaml:"agentID"`
}

type ollamaConfig struct {
	BaseResponderConfig `yaml:",inline"`
	Model               string `yaml:"model"`
}

type anthropicConfig struct {
	BaseResponderConfig `yaml:",inline"`
	APIKey              string `yaml:"apiKey"`
	Model               string `yaml:"model"`
	MaxTokens           int    `yaml:"maxTokens"`
}

func defaultConfig() config {
	return config{
		Port:     "8080",
		LogLevel: "info",
		Typewriter: typewriterConfig{
			Interval:    typewriter.DefaultInterval,
			Frame:       typewriter.DefaultFrame,
			MinChunk:    1,
			MaxChunk:    3,
			IdleTimeout: handlers.DefaultIdleTimeout,
		},
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	rawConfig := struct {
		Port         string           `yaml:"port"`
		StorePath    string           `yaml:"storePath"`
		SystemPrompt string           `yaml:"systemPrompt"`
		LogLevel     string           `yaml:"logLevel"`
		Typewriter   typewriterConfig `yaml:"typewriter"`
		Responder    map[string]any   `yaml:"responder"`
	}{
		Port:       c.Port,
		StorePath:  c.StorePath,
		LogLevel:   c.LogLevel,
		Typewriter: c.Typewriter,
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	provider, ok := rawConfig.Responder["provider"].(string)
	if !ok {
		return fmt.Errorf("responder provider is required")
	}

	responderRawYAML, err := yaml.Marshal(rawConfig.Responder)
	if err != nil {
		return err
	}

	var responder responderConfig
	switch provider {
	case "openai-assistant":
		responder = &openAIAssistantConfig{}
	case "retell":
		responder = &retellConfig{}
	case "ollama":
		responder = &ollamaConfig{}
	case "anthropic":
		responder = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown responder provider: %s", provider)
	}

	if err := yaml.Unmarshal(responderRawYAML, responder); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.StorePath = rawConfig.StorePath
	c.SystemPrompt = rawConfig.SystemPrompt
	c.LogLevel = rawConfig.LogLevel
	c.Typewriter = rawConfig.Typewriter
	c.Responder = responder

	return nil
}

func (c config) validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.Responder == nil {
		return errors.New("responder is required")
	}
	return c.Typewriter.validate()
}

func (t typewriterConfig) validate() error {
	if t.Interval <= 0 {
		return fmt.Errorf("typewriter interval must be positive, got %v", t.Interval)
	}
	if t.Frame <= 0 {
		return fmt.Errorf("typewriter frame must be positive, got %v", t.Frame)
	}
	if t.IdleTimeout <= 0 {
		return fmt.Errorf("typewriter idleTimeout must be positive, got %v", t.IdleTimeout)
	}
	if t.MinChunk < 1 {
		return fmt.Errorf("typewriter minChunk must be at least 1, got %d", t.MinChunk)
	}
	if t.MaxChunk < t.MinChunk {
		return fmt.Errorf("typewriter maxChunk %d is below minChunk %d", t.MaxChunk, t.MinChunk)
	}
	return nil
}

func (t typewriterConfig) options() handlers.MainOptions {
	return handlers.MainOptions{
		Typewriter: typewriter.Options{
			Interval: t.Interval,
			MinChunk: t.MinChunk,
			MaxChunk: t.MaxChunk,
		},
		Frame:       t.Frame,
		IdleTimeout: t.IdleTimeout,
	}
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (o openAIAssistantConfig) responder(_ string, logger *slog.Logger) (handlers.Responder, error) {
	if o.AssistantID == "" {
		return nil, fmt.Errorf("assistantID is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai apiKey is required")
	}
	return services.NewOpenAIAssistant(apiKey, o.AssistantID, o.Endpoint, o.PollInterval, o.PollTimeout, logger), nil
}

func (r retellConfig) responder(_ string, logger *slog.Logger) (handlers.Responder, error) {
	if r.AgentID == "" {
		return nil, fmt.Errorf("agentID is required")
	}

	apiKey := r.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("RETELL_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("retell apiKey is required")
	}
	return services.NewRetell(apiKey, r.AgentID, r.Endpoint, logger), nil
}

func (o ollamaConfig) responder(systemPrompt string, logger *slog.Logger) (handlers.Responder, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Endpoint
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, systemPrompt, logger)
}

func (a anthropicConfig) responder(systemPrompt string, logger *slog.Logger) (handlers.Responder, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Model, systemPrompt, a.MaxTokens, a.Endpoint, logger), nil
}
