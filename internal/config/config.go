// Package config provides configuration types and loading for lexflow.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Server, Store, Channel, Providers, Calendar, Sign, Notify, Audit.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Channel   ChannelConfig   `json:"channel"`
	Providers ProvidersConfig `json:"providers"`
	Calendar  CalendarConfig  `json:"calendar"`
	Sign      SignConfig      `json:"sign"`
	Notify    NotifyConfig    `json:"notify"`
	Audit     AuditConfig     `json:"audit"`
	Engine    EngineConfig    `json:"engine"`
}

// ---------------------------------------------------------------------------
// Server – webhook HTTP listener
// ---------------------------------------------------------------------------

// ServerConfig contains webhook server settings.
type ServerConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
}

// ---------------------------------------------------------------------------
// Store – record store location
// ---------------------------------------------------------------------------

// StoreConfig contains record store settings.
type StoreConfig struct {
	Path string `json:"path" envconfig:"PATH"`
}

// ---------------------------------------------------------------------------
// Channel – chat-channel provider
// ---------------------------------------------------------------------------

// ChannelConfig configures the outbound chat-channel provider.
type ChannelConfig struct {
	BaseURL  string        `json:"baseUrl" envconfig:"BASE_URL"`
	APIKey   string        `json:"apiKey" envconfig:"API_KEY"`
	Instance string        `json:"instance" envconfig:"INSTANCE"`
	Timeout  time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Providers – AI API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains AI provider configurations.
type ProvidersConfig struct {
	Primary   ProviderConfig `json:"primary"`
	Secondary ProviderConfig `json:"secondary"`
}

// ProviderConfig contains settings for a single AI provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model   string `json:"model,omitempty" envconfig:"MODEL"`
}

// ---------------------------------------------------------------------------
// Calendar – scheduling provider
// ---------------------------------------------------------------------------

// CalendarConfig configures the calendar provider connection.
type CalendarConfig struct {
	ClientID      string `json:"clientId" envconfig:"CLIENT_ID"`
	ClientSecret  string `json:"clientSecret" envconfig:"CLIENT_SECRET"`
	WorkDayStart  string `json:"workDayStart" envconfig:"WORK_DAY_START"`
	WorkDayEnd    string `json:"workDayEnd" envconfig:"WORK_DAY_END"`
	LunchStart    string `json:"lunchStart" envconfig:"LUNCH_START"`
	LunchEnd      string `json:"lunchEnd" envconfig:"LUNCH_END"`
	SlotMinutes   int    `json:"slotMinutes" envconfig:"SLOT_MINUTES"`
	UTCOffsetHour int    `json:"utcOffsetHour" envconfig:"UTC_OFFSET_HOUR"`
}

// ---------------------------------------------------------------------------
// Sign – e-signature provider
// ---------------------------------------------------------------------------

// SignConfig configures the document-signature provider.
type SignConfig struct {
	BaseURL string `json:"baseUrl" envconfig:"BASE_URL"`
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
}

// ---------------------------------------------------------------------------
// Notify – operator notifications
// ---------------------------------------------------------------------------

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	SlackToken   string `json:"slackToken" envconfig:"SLACK_TOKEN"`
	SlackChannel string `json:"slackChannel" envconfig:"SLACK_CHANNEL"`
}

// ---------------------------------------------------------------------------
// Audit – workflow event mirroring
// ---------------------------------------------------------------------------

// AuditConfig configures the optional Kafka mirror for workflow events.
type AuditConfig struct {
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `json:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
}

// ---------------------------------------------------------------------------
// Engine – pipeline behaviour
// ---------------------------------------------------------------------------

// EngineConfig contains pipeline tuning knobs.
type EngineConfig struct {
	HistoryTurns     int           `json:"historyTurns" envconfig:"HISTORY_TURNS"`
	GreetingDelay    time.Duration `json:"greetingDelay" envconfig:"GREETING_DELAY"`
	DelayedTick      time.Duration `json:"delayedTick" envconfig:"DELAYED_TICK"`
	TypingMsPerChar  int           `json:"typingMsPerChar" envconfig:"TYPING_MS_PER_CHAR"`
	TypingMin        time.Duration `json:"typingMin" envconfig:"TYPING_MIN"`
	TypingMax        time.Duration `json:"typingMax" envconfig:"TYPING_MAX"`
	ExternalTimeout  time.Duration `json:"externalTimeout" envconfig:"EXTERNAL_TIMEOUT"`
	ModelCallTimeout time.Duration `json:"modelCallTimeout" envconfig:"MODEL_CALL_TIMEOUT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18920,
		},
		Store: StoreConfig{
			Path: "lexflow.db",
		},
		Channel: ChannelConfig{
			Timeout: 30 * time.Second,
		},
		Providers: ProvidersConfig{
			Primary: ProviderConfig{
				Model: "gpt-4o",
			},
			Secondary: ProviderConfig{
				APIBase: "https://openrouter.ai/api/v1",
			},
		},
		Calendar: CalendarConfig{
			WorkDayStart:  "09:00",
			WorkDayEnd:    "18:00",
			LunchStart:    "12:00",
			LunchEnd:      "13:00",
			SlotMinutes:   60,
			UTCOffsetHour: -3,
		},
		Engine: EngineConfig{
			HistoryTurns:     20,
			GreetingDelay:    60 * time.Second,
			DelayedTick:      5 * time.Second,
			TypingMsPerChar:  50,
			TypingMin:        1 * time.Second,
			TypingMax:        5 * time.Second,
			ExternalTimeout:  30 * time.Second,
			ModelCallTimeout: 60 * time.Second,
		},
	}
}
