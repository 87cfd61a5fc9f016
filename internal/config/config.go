// Package config builds the process configuration from, lowest priority
// first: built in defaults, cdsfeeder.json5, cdsfeeder.local.json5, a .env
// file and the process environment. Flags are applied on top by the
// commands.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"cdsfeeder/internal/extractor"
	"cdsfeeder/internal/spread"
	"cdsfeeder/lib/configutil"
	"cdsfeeder/lib/telemetry"

	"dario.cat/mergo"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const (
	DefaultInvestingURL   = "https://br.investing.com/rates-bonds/brazil-cds-5-years-usd-historical-data"
	DefaultCSVPath        = "data/brasil_CDS_historical.csv"
	DefaultUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptLanguage = "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"
	DefaultReferer        = "https://br.investing.com/"
	DefaultSchedule       = "0 22 * * 1-5"
	DefaultTimezone       = "America/Sao_Paulo"
)

type Request struct {
	// TimeoutSeconds applies to each attempt.
	TimeoutSeconds float64 `json:"timeout_seconds" env:"REQUEST_TIMEOUT"`
	Retries        int     `json:"retries" env:"REQUEST_RETRIES"`
	// BackoffFactor is in seconds, see fetcher.Backoff.
	BackoffFactor    float64 `json:"backoff_factor" env:"REQUEST_BACKOFF_FACTOR"`
	MaxBackoffSecs   float64 `json:"max_backoff_seconds" env:"REQUEST_MAX_BACKOFF"`
	UserAgent        string  `json:"user_agent" env:"USER_AGENT"`
	Accept           string  `json:"accept" env:"ACCEPT"`
	AcceptLanguage   string  `json:"accept_language" env:"ACCEPT_LANGUAGE"`
	Referer          string  `json:"referer" env:"REFERER"`
	CloudflareBypass bool    `json:"cloudflare_bypass" env:"CLOUDFLARE_BYPASS"`
}

func (r Request) Timeout() time.Duration {
	return seconds(r.TimeoutSeconds)
}

func (r Request) Backoff() time.Duration {
	return seconds(r.BackoffFactor)
}

func (r Request) MaxBackoff() time.Duration {
	return seconds(r.MaxBackoffSecs)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

type Log struct {
	Level string `json:"level" env:"LOG_LEVEL"`
	JSON  bool   `json:"json" env:"LOG_JSON"`
}

type Config struct {
	Environment  string `json:"environment" env:"ENVIRONMENT"`
	DatabaseURL  string `json:"database_url" env:"DATABASE_URL"`
	CSVPath      string `json:"csv_output_path" env:"CSV_OUTPUT_PATH"`
	BackupKeep   int    `json:"csv_backup_keep" env:"CSV_BACKUP_KEEP"`
	InvestingURL string `json:"investing_url" env:"INVESTING_URL"`
	TableXPath   string `json:"table_xpath" env:"TABLE_XPATH"`
	// NullPolicy is keep_existing or overwrite.
	NullPolicy string `json:"null_policy" env:"NULL_POLICY"`
	Schedule   string `json:"schedule" env:"CRON_SCHEDULE"`
	Timezone   string `json:"timezone" env:"TIMEZONE"`

	Request   Request          `json:"request"`
	Log       Log              `json:"log"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func Default() Config {
	return Config{
		Environment:  "development",
		CSVPath:      DefaultCSVPath,
		InvestingURL: DefaultInvestingURL,
		TableXPath:   extractor.DefaultXPath,
		NullPolicy:   string(spread.KeepExisting),
		Schedule:     DefaultSchedule,
		Timezone:     DefaultTimezone,
		Request: Request{
			TimeoutSeconds: 20,
			Retries:        3,
			BackoffFactor:  0.8,
			MaxBackoffSecs: 120,
			UserAgent:      DefaultUserAgent,
			Accept:         DefaultAccept,
			AcceptLanguage: DefaultAcceptLanguage,
			Referer:        DefaultReferer,
		},
		Log: Log{Level: "INFO"},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func (c Config) Policy() spread.NullPolicy {
	policy, err := spread.ParseNullPolicy(c.NullPolicy)
	if err != nil {
		return spread.KeepExisting
	}
	return policy
}

type Sources struct {
	// File is the json5 configuration file, its .local sibling is merged on
	// top. A missing file is not an error.
	File string
	// EnvFile is loaded into the process environment without overriding
	// variables already set. A missing file is not an error.
	EnvFile string
}

// Load assembles the configuration from every layer below the flags.
func Load(sources Sources) (Config, error) {
	cfg := Default()

	if sources.File != "" {
		fromFile, err := configutil.ReadConfig[Config](sources.File)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read %s: %w", sources.File, err)
		}
		if err == nil {
			err = mergo.Merge(&cfg, fromFile, mergo.WithOverride)
			if err != nil {
				return cfg, err
			}
		}
	}

	if sources.EnvFile != "" {
		err := godotenv.Load(sources.EnvFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", sources.EnvFile, err)
		}
	}

	err := envdecode.Decode(&cfg)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("decode environment: %w", err)
	}

	return cfg, nil
}

// Validate rejects values no component could work with.
func (c Config) Validate() error {
	var errs []error
	if c.InvestingURL == "" {
		errs = append(errs, errors.New("investing_url is empty"))
	} else if u, err := url.Parse(c.InvestingURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("investing_url %q is not an absolute url", c.InvestingURL))
	}
	if c.Request.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %v", c.Request.TimeoutSeconds))
	}
	if c.Request.Retries < 0 {
		errs = append(errs, fmt.Errorf("request retries must not be negative, got %d", c.Request.Retries))
	}
	if c.Request.BackoffFactor < 0 {
		errs = append(errs, fmt.Errorf("request backoff factor must not be negative, got %v", c.Request.BackoffFactor))
	}
	if c.BackupKeep < 0 {
		errs = append(errs, fmt.Errorf("csv_backup_keep must not be negative, got %d", c.BackupKeep))
	}
	if _, err := spread.ParseNullPolicy(c.NullPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	return errors.Join(errs...)
}
