// Package config loads runtime settings from the environment, .env files and
// an optional YAML config file.
//
// Precedence, highest first:
//  1. Environment variables (upper-case key, e.g. DIFF_BUCKET_NAME)
//  2. .env.local, then .env
//  3. Config file (--config, or .zengin-sync.yaml in $HOME or .)
//  4. Defaults
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/zenginsync/internal/approval"
	"github.com/agentstation/zenginsync/internal/retry"
	"github.com/agentstation/zenginsync/internal/sources/zengincode"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Backend selectors.
const (
	RunStoreDynamoDB = "dynamodb"
	RunStoreMemory   = "memory"

	BlobS3     = "s3"
	BlobMemory = "memory"

	DispatchLocal  = "local"
	DispatchLambda = "lambda"
)

// FileName is the config file searched for when --config is not given.
const FileName = ".zengin-sync"

// Config holds every runtime setting.
type Config struct {
	ConfigFile string

	Environment string `validate:"required"`
	AWSRegion   string

	// Run records
	RunStore     string `validate:"oneof=dynamodb memory"`
	DiffTable    string `validate:"required_if=RunStore dynamodb"`
	MessageIndex string
	DynamoURL    string

	// Bulk payloads
	BlobDriver  string `validate:"oneof=s3 memory"`
	Bucket      string `validate:"required_if=BlobDriver s3"`
	S3Endpoint  string
	S3PathStyle bool

	// System of record
	DatabaseSecretARN string
	DatabaseURL       string
	ConnectTimeout    time.Duration `validate:"gt=0"`

	// Chat
	SlackBotToken       string
	SlackTokenSecretARN string
	SlackChannel        string
	SlackSigningSecret  string
	SlackRetryCount     int           `validate:"gte=1"`
	SlackRetryDelay     time.Duration `validate:"gte=0"`

	// Scheduling
	SchedulerGroup   string
	SchedulerRoleARN string
	ExecuteTargetARN string
	DispatchMode     string `validate:"oneof=local lambda"`
	CutoverTime      string
	Timezone         string
	DuplicateWindow  time.Duration `validate:"gte=0"`

	// Detection lock
	RedisURL string

	// Authoritative dataset
	SourceURL string
	SourceDir string

	// HTTP front door
	HTTPHost string
	HTTPPort int `validate:"gte=0,lte=65535"`
	APIKey   string

	// Logging; empty values keep the LOG_* environment settings
	LogFormat string `validate:"omitempty,oneof=auto json console pretty"`
	LogOutput string
	LogFields string
}

// defaults are applied before any source is read.
var defaults = map[string]any{
	"environment":              "dev",
	"aws_region":               "ap-northeast-1",
	"run_store":                RunStoreDynamoDB,
	"diff_table_name":          "zengin-diff-runs",
	"blob_driver":              BlobS3,
	"database_connect_timeout": "30s",
	"slack_api_retry_count":    retry.DefaultPolicy.Attempts,
	"slack_api_retry_delay":    int(retry.DefaultPolicy.Delay / time.Millisecond),
	"scheduler_group_name":     "default",
	"dispatch_mode":            DispatchLocal,
	"cutover_time":             approval.DefaultCutover.String(),
	"timezone":                 "Asia/Tokyo",
	"duplicate_run_window":     "5m",
	"zengin_source_url":        zengincode.DefaultBaseURL,
	"http_host":                "0.0.0.0",
	"http_port":                8080,
}

// Default returns the configuration built from defaults alone.
func Default() *Config {
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// Load reads the configuration without validating it. An explicit
// configFile must exist; the default search locations are optional.
func Load(configFile string) (*Config, error) {
	loadEnvFiles()

	v := newViper()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(FileName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.NewConfigError("config", "read config file", err)
		}
	}

	return FromViper(v), nil
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		ConfigFile: v.ConfigFileUsed(),

		Environment: v.GetString("environment"),
		AWSRegion:   v.GetString("aws_region"),

		RunStore:     strings.ToLower(v.GetString("run_store")),
		DiffTable:    v.GetString("diff_table_name"),
		MessageIndex: v.GetString("diff_table_message_index"),
		DynamoURL:    v.GetString("dynamodb_endpoint"),

		BlobDriver:  strings.ToLower(v.GetString("blob_driver")),
		Bucket:      v.GetString("diff_bucket_name"),
		S3Endpoint:  v.GetString("s3_endpoint"),
		S3PathStyle: v.GetBool("s3_path_style"),

		DatabaseSecretARN: v.GetString("database_secret_arn"),
		DatabaseURL:       v.GetString("database_url"),
		ConnectTimeout:    v.GetDuration("database_connect_timeout"),

		SlackBotToken:       v.GetString("slack_bot_token"),
		SlackTokenSecretARN: v.GetString("slack_bot_token_secret_arn"),
		SlackChannel:        v.GetString("slack_channel_id"),
		SlackSigningSecret:  v.GetString("slack_signing_secret"),
		SlackRetryCount:     v.GetInt("slack_api_retry_count"),
		SlackRetryDelay:     time.Duration(v.GetInt("slack_api_retry_delay")) * time.Millisecond,

		SchedulerGroup:   v.GetString("scheduler_group_name"),
		SchedulerRoleARN: v.GetString("scheduler_role_arn"),
		ExecuteTargetARN: v.GetString("execute_target_arn"),
		DispatchMode:     strings.ToLower(v.GetString("dispatch_mode")),
		CutoverTime:      v.GetString("cutover_time"),
		Timezone:         v.GetString("timezone"),
		DuplicateWindow:  v.GetDuration("duplicate_run_window"),

		RedisURL: v.GetString("redis_url"),

		SourceURL: v.GetString("zengin_source_url"),
		SourceDir: v.GetString("zengin_source_dir"),

		HTTPHost: v.GetString("http_host"),
		HTTPPort: v.GetInt("http_port"),
		APIKey:   v.GetString("api_key"),

		LogFormat: strings.ToLower(v.GetString("log_format")),
		LogOutput: v.GetString("log_output"),
		LogFields: v.GetString("log_fields"),
	}
}

// Validate checks field constraints and the schedule settings.
func (c *Config) Validate() error {
	if err := zengin.ValidateStruct(c); err != nil {
		return errors.NewConfigError("config", "invalid settings", err)
	}
	if _, _, err := c.Schedule(); err != nil {
		return errors.NewConfigError("config", "invalid schedule settings", err)
	}
	return nil
}

// Schedule parses the fixed cutover and its time zone.
func (c *Config) Schedule() (approval.Cutover, *time.Location, error) {
	cutover := approval.DefaultCutover
	if c.CutoverTime != "" {
		parsed, err := approval.ParseCutover(c.CutoverTime)
		if err != nil {
			return approval.Cutover{}, nil, err
		}
		cutover = parsed
	}
	loc := zengin.Tokyo
	if c.Timezone != "" && c.Timezone != "Asia/Tokyo" {
		parsed, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return approval.Cutover{}, nil, errors.NewValidationError("timezone", c.Timezone, "unknown time zone")
		}
		loc = parsed
	}
	return cutover, loc, nil
}

// RetryPolicy is the completion notification retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{Attempts: c.SlackRetryCount, Delay: c.SlackRetryDelay}
}

// SlackEnabled reports whether a bot token is configured directly or by secret.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" || c.SlackTokenSecretARN != ""
}

// DatabaseConfigured reports whether the system of record can be reached.
func (c *Config) DatabaseConfigured() bool {
	return c.DatabaseURL != "" || c.DatabaseSecretARN != ""
}

// loadEnvFiles loads .env.local then .env. godotenv never overrides a
// variable that is already set, so .env.local wins over .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}
