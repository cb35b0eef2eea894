package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 30 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)
const defaultLLMTemperature = 0.1

const (
	DefaultChatURL   = "https://api.groq.com/openai/v1/chat/completions"
	DefaultChatModel = "gemma2-9b-it"
	DefaultSearchURL = "https://api.tavily.com/search"
)

type Config struct {
	LLMProvider          string  `yaml:"llm_provider"`
	LLMAPIKey            string  `yaml:"llm_api_key"`
	LLMModel             string  `yaml:"llm_model"`
	LLMAPIURL            string  `yaml:"llm_api_url"`
	AnthropicAPIKey      string  `yaml:"anthropic_api_key"`
	LLMTemperature       float64 `yaml:"llm_temperature"`
	LLMMaxTokens         int     `yaml:"llm_max_tokens"`
	LLMMaxAttempts       int     `yaml:"llm_max_attempts"`
	LLMRequestsPerMinute int     `yaml:"llm_requests_per_minute"`
	LLMGlossaryPath      string  `yaml:"llm_glossary_path"`

	SearchAPIKey            string   `yaml:"search_api_key"`
	SearchAPIURL            string   `yaml:"search_api_url"`
	SearchMaxResults        int      `yaml:"search_max_results"`
	SearchRequestsPerMinute int      `yaml:"search_requests_per_minute"`
	SearchIncludeDomains    []string `yaml:"search_include_domains"`
	SearchExcludeDomains    []string `yaml:"search_exclude_domains"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`
	InterTicketDelayMS         int `yaml:"inter_ticket_delay_ms"`
	Workers                    int `yaml:"workers"`

	DBPath          string `yaml:"db_path"`
	TicketsFile     string `yaml:"tickets_file"`
	ReportOutputDir string `yaml:"report_output_dir"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	BatchSchedule string `yaml:"batch_schedule"`
	HTTPAddr      string `yaml:"http_addr"`
	Timezone      string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	// Zero is a valid temperature, so its default is set before decoding
	// instead of being inferred from the zero value afterwards.
	cfg := Config{LLMTemperature: defaultLLMTemperature}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMAPIKey, "GROK_API_KEY")
	envOverride(&cfg.LLMAPIKey, "LLM_API_KEY")
	envOverride(&cfg.LLMModel, "GROK_MODEL")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMAPIURL, "LLM_API_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverrideFloat(&cfg.LLMTemperature, "LLM_TEMPERATURE")
	envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	envOverrideInt(&cfg.LLMMaxAttempts, "LLM_MAX_ATTEMPTS")
	envOverrideInt(&cfg.LLMRequestsPerMinute, "LLM_REQUESTS_PER_MINUTE")
	envOverride(&cfg.LLMGlossaryPath, "LLM_GLOSSARY_PATH")
	envOverride(&cfg.SearchAPIKey, "TAVILY_API_KEY")
	envOverride(&cfg.SearchAPIURL, "SEARCH_API_URL")
	envOverrideInt(&cfg.SearchMaxResults, "SEARCH_MAX_RESULTS")
	envOverrideInt(&cfg.SearchRequestsPerMinute, "SEARCH_REQUESTS_PER_MINUTE")
	envOverrideList(&cfg.SearchIncludeDomains, "SEARCH_INCLUDE_DOMAINS")
	envOverrideList(&cfg.SearchExcludeDomains, "SEARCH_EXCLUDE_DOMAINS")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.InterTicketDelayMS, "INTER_TICKET_DELAY_MS")
	envOverrideInt(&cfg.Workers, "WORKERS")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.TicketsFile, "TICKETS_FILE")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.BatchSchedule, "BATCH_SCHEDULE")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.Timezone, "TIMEZONE")

	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	if cfg.LLMAPIURL == "" {
		cfg.LLMAPIURL = DefaultChatURL
	}
	if cfg.LLMModel == "" && cfg.LLMProvider == "openai" {
		cfg.LLMModel = DefaultChatModel
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 500
	}
	if cfg.LLMMaxAttempts == 0 {
		cfg.LLMMaxAttempts = 3
	}
	if cfg.SearchAPIURL == "" {
		cfg.SearchAPIURL = DefaultSearchURL
	}
	if cfg.SearchMaxResults == 0 {
		cfg.SearchMaxResults = 8
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.InterTicketDelayMS == 0 {
		cfg.InterTicketDelayMS = 500
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./ticketbot.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	switch cfg.LLMProvider {
	case "openai":
		if cfg.LLMAPIKey == "" {
			log.Printf("WARNING: llm_api_key is not set. Classification will use default labels.")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Printf("WARNING: anthropic_api_key is not set. Classification will use default labels.")
		}
	default:
		log.Fatalf("llm_provider must be 'openai' or 'anthropic', got '%s'", cfg.LLMProvider)
	}
	if cfg.SearchAPIKey == "" {
		log.Printf("WARNING: search_api_key is not set. Answer generation will report search errors.")
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		log.Fatalf("invalid llm_temperature '%f': must be between 0 and 2", cfg.LLMTemperature)
	}
	if cfg.LLMMaxTokens < 1 {
		log.Fatalf("invalid llm_max_tokens '%d': must be >= 1", cfg.LLMMaxTokens)
	}
	if cfg.LLMMaxAttempts < 1 {
		log.Fatalf("invalid llm_max_attempts '%d': must be >= 1", cfg.LLMMaxAttempts)
	}
	if cfg.LLMRequestsPerMinute < 0 || cfg.SearchRequestsPerMinute < 0 {
		log.Fatalf("invalid requests_per_minute: must be >= 0")
	}
	if cfg.SearchMaxResults < 1 || cfg.SearchMaxResults > 20 {
		log.Fatalf("invalid search_max_results '%d': must be between 1 and 20", cfg.SearchMaxResults)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.InterTicketDelayMS < 0 {
		log.Fatalf("invalid inter_ticket_delay_ms '%d': must be >= 0", cfg.InterTicketDelayMS)
	}
	if cfg.Workers < 1 {
		log.Fatalf("invalid workers '%d': must be >= 1", cfg.Workers)
	}
	if cfg.LLMGlossaryPath != "" {
		if err := validateGlossaryPath(cfg.LLMGlossaryPath); err != nil {
			log.Fatalf("invalid llm_glossary_path '%s': %v", cfg.LLMGlossaryPath, err)
		}
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideList(field *[]string, envKey string) {
	val := os.Getenv(envKey)
	if val == "" {
		return
	}
	*field = nil
	for _, v := range strings.Split(val, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			*field = append(*field, v)
		}
	}
}

func (c Config) InterTicketDelay() time.Duration {
	return time.Duration(c.InterTicketDelayMS) * time.Millisecond
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

// validateGlossaryPath accepts a missing file; `ticketbot glossary add`
// creates it.
func validateGlossaryPath(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read glossary: %w", err)
	}
	var g struct {
		Topics     []struct{} `yaml:"topics"`
		Sentiments []struct{} `yaml:"sentiments"`
		Priorities []struct{} `yaml:"priorities"`
	}
	if err := yaml.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("parse glossary yaml: %w", err)
	}
	return nil
}
