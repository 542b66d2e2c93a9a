package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned when the gemini provider is selected without a key.
var ErrMissingAPIKey = errors.New("Kein GEMINI_API_KEY in der Umgebung gefunden.")

// DefaultGeminiModel is used when mode=gemini and no model is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	Tracing        bool   `yaml:"tracing"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	LLM         LLMConfig       `yaml:"llm"`
	Bus         BusConfig       `yaml:"bus"`
	Audit       AuditConfig     `yaml:"audit"`
}

type LLMConfig struct {
	Mode        string   `yaml:"mode"` // gemini, ollama, exec, mock
	APIKey      string   `yaml:"api_key"`
	Endpoint    string   `yaml:"endpoint"`
	Command     string   `yaml:"command"`
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"` // nil keeps the provider default
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Subject        string   `yaml:"subject"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AuditConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "sachverhalt",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		LLM: LLMConfig{
			Mode: "gemini",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			Subject:        "sachverhalt.generate",
			ConnectTimeout: 2000,
		},
		Audit: AuditConfig{
			Path:          "./data/sachverhalt-audit.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment. A .env file in the working directory is read first; it never
// overrides variables that are already set.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read .env file: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SACHVERHALT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SACHVERHALT_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SACHVERHALT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SACHVERHALT_HTTP_PORT")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SACHVERHALT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SACHVERHALT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SACHVERHALT_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SACHVERHALT_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.Tracing, "SACHVERHALT_TELEMETRY_TRACING")
	overrideString(&cfg.LLM.Mode, "SACHVERHALT_LLM_MODE")
	overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.LLM.Endpoint, "SACHVERHALT_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "SACHVERHALT_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "SACHVERHALT_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "SACHVERHALT_LLM_MAX_TOKENS")
	overrideOptionalFloat(&cfg.LLM.Temperature, "SACHVERHALT_LLM_TEMPERATURE")
	overrideBool(&cfg.Bus.Enabled, "SACHVERHALT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SACHVERHALT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SACHVERHALT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SACHVERHALT_BUS_SERVERS")
	overrideString(&cfg.Bus.Subject, "SACHVERHALT_BUS_SUBJECT")
	overrideString(&cfg.Bus.Username, "SACHVERHALT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SACHVERHALT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SACHVERHALT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SACHVERHALT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SACHVERHALT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audit.Path, "SACHVERHALT_AUDIT_PATH")
	overrideString(&cfg.Audit.RetentionMode, "SACHVERHALT_AUDIT_RETENTION_MODE")
	overrideInt(&cfg.Audit.RetentionDays, "SACHVERHALT_AUDIT_RETENTION_DAYS")
	overrideInt(&cfg.Audit.MaxRecords, "SACHVERHALT_AUDIT_MAX_RECORDS")
	overrideBool(&cfg.Audit.VacuumOnStart, "SACHVERHALT_AUDIT_VACUUM_ON_START")
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Mode == "gemini" && cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultGeminiModel
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideOptionalFloat(target **float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = &parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if err := ValidateLLM(cfg.LLM); err != nil {
		return err
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Subject == "" {
			return errors.New("bus.subject must not be empty when the bus is enabled")
		}
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Audit.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("audit.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Audit.RetentionMode != "ephemeral" && cfg.Audit.Path == "" {
		return errors.New("audit.path must not be empty")
	}
	if cfg.Audit.RetentionDays < 0 {
		return errors.New("audit.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}

// ValidateLLM checks the provider section on its own so that hosts which do
// not load a full Config can still fail fast on a missing key.
func ValidateLLM(cfg LLMConfig) error {
	switch cfg.Mode {
	case "gemini":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return ErrMissingAPIKey
		}
	case "ollama":
		if cfg.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("llm.mode must be one of gemini|ollama|exec|mock")
	}
	if cfg.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.Temperature != nil && (*cfg.Temperature < 0 || *cfg.Temperature > 2) {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	return nil
}

// SlogLevel parses LogLevel, falling back to info.
func (t TelemetryConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(t.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
