package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr       string        `mapstructure:"http_addr"`
	LogLevel       string        `mapstructure:"log_level"`
	RequestTimeout time.Duration `mapstructure:"http_client_timeout"`
	DBPath         string        `mapstructure:"db_path"`
	Auth           AuthConfig    `mapstructure:"auth"`
	GenAI          GenAIConfig   `mapstructure:"genai"`
	History        HistoryConfig `mapstructure:"history"`
	Quota          QuotaConfig   `mapstructure:"quota"`
	Stripe         StripeConfig  `mapstructure:"stripe"`
}

type AuthConfig struct {
	StoreType  string        `mapstructure:"store_type"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Issuer     string        `mapstructure:"issuer"`
	Password   string        `mapstructure:"password"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// GenAIConfig описывает подключение к сервису инференса и параметры генерации.
// Параметры генерации одинаковы для всех запросов.
// Timeout ограничивает весь вызов инференса вместе с повторами.
type GenAIConfig struct {
	APIKey            string           `mapstructure:"api_key"`
	APIURL            string           `mapstructure:"api_url"`
	Timeout           time.Duration    `mapstructure:"timeout"`
	ModelID           string           `mapstructure:"model_id"`
	DecodingMethod    string           `mapstructure:"decoding_method"`
	MinNewTokens      int              `mapstructure:"min_new_tokens"`
	MaxNewTokens      int              `mapstructure:"max_new_tokens"`
	RepetitionPenalty float64          `mapstructure:"repetition_penalty"`
	TopP              float64          `mapstructure:"top_p"`
	TopK              int              `mapstructure:"top_k"`
	Temperature       float64          `mapstructure:"temperature"`
	Moderation        ModerationConfig `mapstructure:"moderation"`
	SystemPrompt      string           `mapstructure:"system_prompt"`
}

type ModerationConfig struct {
	HAPInput     bool    `mapstructure:"hap_input"`
	HAPOutput    bool    `mapstructure:"hap_output"`
	HAPThreshold float64 `mapstructure:"hap_threshold"`
}

// HistoryConfig управляет хранением истории диалога.
//   - Scope: "user" — отдельная история на пользователя, "global" — одна общая на процесс.
//   - MaxTurns: сколько последних записей истории попадает в промпт (0 — все).
//     Вопрос и ответ считаются отдельными записями, окно всегда начинается с вопроса.
//   - StoreRawAnswer: сохранять ответ модели до удаления префикса "Answer: ".
type HistoryConfig struct {
	Scope          string        `mapstructure:"scope"`
	TTL            time.Duration `mapstructure:"ttl"`
	MaxTurns       int           `mapstructure:"max_turns"`
	StoreRawAnswer bool          `mapstructure:"store_raw_answer"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

type QuotaConfig struct {
	StoreType     string `mapstructure:"store_type"`
	MaxFreeCounts int    `mapstructure:"max_free_counts"`
}

type StripeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	AppURL        string `mapstructure:"app_url"`
	ProductName   string `mapstructure:"product_name"`
	Description   string `mapstructure:"description"`
	UnitAmount    int64  `mapstructure:"unit_amount"`
	Currency      string `mapstructure:"currency"`
}

// Loader читает конфигурацию из переменных окружения и, опционально, из YAML-файла.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader создаёт загрузчик. Пустой path означает "только окружение".
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	// genai.api_key <-> GENAI_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v, path: path}
}

// DefaultLoader берёт путь к YAML-файлу из CONFIG_PATH.
func DefaultLoader() *Loader {
	return NewLoader(getEnv("CONFIG_PATH", ""))
}

func (l *Loader) Load() (Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch перечитывает файл конфигурации при изменении и передаёт новую версию в onChange.
// Без файла конфигурации ничего не делает.
func (l *Loader) Watch(onChange func(Config, fsnotify.Event), onError func(error)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			onError(fmt.Errorf("decode config: %w", err))
			return
		}
		if err := cfg.validate(); err != nil {
			onError(err)
			return
		}
		onChange(cfg, e)
	})
	l.v.WatchConfig()
}

func (c Config) validate() error {
	switch c.History.Scope {
	case "user", "global":
	default:
		return fmt.Errorf("history.scope must be user or global, got %q", c.History.Scope)
	}
	if c.GenAI.Timeout <= 0 {
		return fmt.Errorf("genai.timeout must be positive")
	}
	if c.History.MaxTurns < 0 {
		return fmt.Errorf("history.max_turns must not be negative")
	}
	if c.Quota.MaxFreeCounts < 0 {
		return fmt.Errorf("quota.max_free_counts must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_client_timeout", "60s")
	v.SetDefault("db_path", "data/codegen.db")

	v.SetDefault("auth.store_type", "sqlite")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "codegen")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.session_ttl", "2h")

	v.SetDefault("genai.api_key", "")
	v.SetDefault("genai.api_url", "https://bam-api.res.ibm.com")
	v.SetDefault("genai.timeout", "60s")
	v.SetDefault("genai.model_id", "meta-llama/llama-2-70b-chat")
	v.SetDefault("genai.decoding_method", "sample")
	v.SetDefault("genai.min_new_tokens", 1)
	v.SetDefault("genai.max_new_tokens", 1000)
	v.SetDefault("genai.repetition_penalty", 1.2)
	v.SetDefault("genai.top_p", 0.8)
	v.SetDefault("genai.top_k", 5)
	v.SetDefault("genai.temperature", 0.8)
	v.SetDefault("genai.moderation.hap_input", true)
	v.SetDefault("genai.moderation.hap_output", true)
	v.SetDefault("genai.moderation.hap_threshold", 0.75)
	v.SetDefault("genai.system_prompt", "")

	v.SetDefault("history.scope", "user")
	v.SetDefault("history.ttl", "24h")
	v.SetDefault("history.max_turns", 20)
	v.SetDefault("history.store_raw_answer", true)
	v.SetDefault("history.sweep_interval", "10m")

	v.SetDefault("quota.store_type", "sqlite")
	v.SetDefault("quota.max_free_counts", 5)

	v.SetDefault("stripe.api_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.app_url", "http://localhost:3000")
	v.SetDefault("stripe.product_name", "Genius Pro")
	v.SetDefault("stripe.description", "Unlimited AI Generations")
	v.SetDefault("stripe.unit_amount", 2000)
	v.SetDefault("stripe.currency", "usd")
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}
