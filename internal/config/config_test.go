package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"DIGESTBOT_PORT", "DATABASE_URL", "OLLAMA_HOST", "OLLAMA_PORT",
		"OLLAMA_MODEL", "OLLAMA_TIMEOUT", "SUMMARY_TIME", "TZ",
		"GROUP_CHAT_IDS", "SUMMARY_CHAT_IDS", "DIGESTBOT_CONFIG",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8760 {
		t.Errorf("unexpected port: %d", cfg.Port)
	}
	if cfg.OllamaURL() != "http://ollama:11434/api/generate" {
		t.Errorf("unexpected ollama URL: %s", cfg.OllamaURL())
	}
	if cfg.OllamaModel != "mistral" || cfg.OllamaTimeout != 90*time.Second {
		t.Errorf("unexpected ollama defaults: %s %v", cfg.OllamaModel, cfg.OllamaTimeout)
	}
	if cfg.SummaryTime != "23:55" || cfg.Timezone != "Asia/Tehran" {
		t.Errorf("unexpected schedule defaults: %s %s", cfg.SummaryTime, cfg.Timezone)
	}
	if cfg.OllamaOptions.NumCtx != 2048 {
		t.Errorf("unexpected default options: %+v", cfg.OllamaOptions)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("DIGESTBOT_CONFIG", "")
	t.Setenv("GROUP_CHAT_IDS", "-100123, -100456")
	t.Setenv("SUMMARY_CHAT_IDS", "")
	t.Setenv("OLLAMA_TIMEOUT", "90")
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.MonitoredChats) != 2 || cfg.MonitoredChats[0] != -100123 || cfg.MonitoredChats[1] != -100456 {
		t.Errorf("unexpected monitored chats: %v", cfg.MonitoredChats)
	}
	if len(cfg.Destinations) != 2 {
		t.Errorf("destinations must default to monitored chats, got %v", cfg.Destinations)
	}
	if cfg.OllamaTimeout != 90*time.Second {
		t.Errorf("bare seconds timeout not parsed: %v", cfg.OllamaTimeout)
	}
	if cfg.TelegramBase() != "https://api.telegram.org/bot123:abc" {
		t.Errorf("unexpected telegram base: %s", cfg.TelegramBase())
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digestbot.yaml")
	data := `
monitored_chats: [-100999]
destinations: [-100999, -100111]
summary_time: "21:00"
timezone: "Europe/Berlin"
ollama:
  model: llama3
  options:
    num_ctx: 4096
    num_thread: 8
    temperature: 0.2
    top_p: 0.9
    repeat_penalty: 1.0
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DIGESTBOT_CONFIG", path)
	t.Setenv("GROUP_CHAT_IDS", "-100123")
	t.Setenv("SUMMARY_CHAT_IDS", "")
	t.Setenv("SUMMARY_TIME", "")
	t.Setenv("TZ", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.MonitoredChats) != 1 || cfg.MonitoredChats[0] != -100999 {
		t.Errorf("file must override env chats, got %v", cfg.MonitoredChats)
	}
	if len(cfg.Destinations) != 2 {
		t.Errorf("unexpected destinations: %v", cfg.Destinations)
	}
	if cfg.SummaryTime != "21:00" || cfg.Timezone != "Europe/Berlin" {
		t.Errorf("unexpected schedule: %s %s", cfg.SummaryTime, cfg.Timezone)
	}
	if cfg.OllamaModel != "llama3" || cfg.OllamaOptions.NumCtx != 4096 {
		t.Errorf("unexpected ollama overlay: %s %+v", cfg.OllamaModel, cfg.OllamaOptions)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DIGESTBOT_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}
