package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kavehm/digestbot/internal/ollama"
)

type Config struct {
	Port     int
	APIToken string

	DatabaseURL string
	LogLevel    string

	BotToken       string
	TelegramAPIURL string
	MonitoredChats []int64
	Destinations   []int64

	OllamaHost    string
	OllamaPort    int
	OllamaModel   string
	OllamaTimeout time.Duration
	OllamaOptions ollama.Options

	SummaryTime string
	Timezone    string

	RosterPath string

	NatsURL   string
	NatsToken string
}

// OllamaURL is the generate endpoint assembled from host and port.
func (c Config) OllamaURL() string {
	return fmt.Sprintf("http://%s:%d/api/generate", c.OllamaHost, c.OllamaPort)
}

// TelegramBase is the Bot API base for this bot's token. The explicit
// URL override exists for tests and proxies.
func (c Config) TelegramBase() string {
	if c.TelegramAPIURL != "" {
		return c.TelegramAPIURL
	}
	return "https://api.telegram.org/bot" + c.BotToken
}

// Load reads configuration from the environment, after best-effort
// loading of a .env file. A YAML file named by DIGESTBOT_CONFIG
// overlays the env values.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:     envInt("DIGESTBOT_PORT", 8760),
		APIToken: envStr("DIGESTBOT_API_TOKEN", ""),

		DatabaseURL: envStr("DATABASE_URL", "digestbot.db"),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		BotToken:       envStr("BOT_TOKEN", ""),
		TelegramAPIURL: envStr("TELEGRAM_API_URL", ""),
		MonitoredChats: envInt64List("GROUP_CHAT_IDS"),
		Destinations:   envInt64List("SUMMARY_CHAT_IDS"),

		OllamaHost:    envStr("OLLAMA_HOST", "ollama"),
		OllamaPort:    envInt("OLLAMA_PORT", 11434),
		OllamaModel:   envStr("OLLAMA_MODEL", "mistral"),
		OllamaTimeout: envDuration("OLLAMA_TIMEOUT", 90*time.Second),
		OllamaOptions: ollama.DefaultOptions(),

		SummaryTime: envStr("SUMMARY_TIME", "23:55"),
		Timezone:    envStr("TZ", "Asia/Tehran"),

		RosterPath: envStr("GROUP_MEMBERS_FILE", "group_members.json"),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),
	}

	if path := os.Getenv("DIGESTBOT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	// Digests go back to the monitored chats unless told otherwise.
	if len(cfg.Destinations) == 0 {
		cfg.Destinations = cfg.MonitoredChats
	}
	return cfg, nil
}

// fileConfig is the YAML overlay shape.
type fileConfig struct {
	MonitoredChats []int64 `yaml:"monitored_chats"`
	Destinations   []int64 `yaml:"destinations"`
	SummaryTime    string  `yaml:"summary_time"`
	Timezone       string  `yaml:"timezone"`
	Ollama         struct {
		Model   string          `yaml:"model"`
		Options *ollama.Options `yaml:"options"`
	} `yaml:"ollama"`
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if len(fc.MonitoredChats) > 0 {
		c.MonitoredChats = fc.MonitoredChats
	}
	if len(fc.Destinations) > 0 {
		c.Destinations = fc.Destinations
	}
	if fc.SummaryTime != "" {
		c.SummaryTime = fc.SummaryTime
	}
	if fc.Timezone != "" {
		c.Timezone = fc.Timezone
	}
	if fc.Ollama.Model != "" {
		c.OllamaModel = fc.Ollama.Model
	}
	if fc.Ollama.Options != nil {
		c.OllamaOptions = *fc.Ollama.Options
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare numbers are seconds, matching the common OLLAMA_TIMEOUT=90.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func envInt64List(key string) []int64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}
