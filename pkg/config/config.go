// Package config loads the staffsync configuration from built-in defaults, an
// optional YAML file, an optional .env file, STAFFSYNC_* environment
// variables and finally the OS keyring, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mscno/staffsync/pkg/oskeyring"
)

// Config is the top-level configuration. It is built once and passed to each
// collaborator constructor.
type Config struct {
	Directory DirectoryConfig `yaml:"directory"`
	Registry  RegistryConfig  `yaml:"registry"`
	Photos    PhotosConfig    `yaml:"photos"`
	Export    ExportConfig    `yaml:"export"`
	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DirectoryConfig describes the public staff directory.
type DirectoryConfig struct {
	BaseURL           string        `yaml:"baseURL" validate:"required,url"`
	MaxFaculties      int           `yaml:"maxFaculties" validate:"gt=0"`
	MaxRecords        int           `yaml:"maxRecords" validate:"gte=0"`
	LookupBatchSize   int           `yaml:"lookupBatchSize" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
	UserAgent         string        `yaml:"userAgent"`
	HarvestFile       string        `yaml:"harvestFile" validate:"required"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
}

// RegistryConfig describes the registry's REST APIs.
type RegistryConfig struct {
	// BaseURL is the root of the CRUD API; persons are written to {BaseURL}persons/{uuid}.
	BaseURL string `yaml:"baseURL" validate:"omitempty,url"`
	// SearchURL defaults to {BaseURL}persons/search.
	SearchURL         string        `yaml:"searchURL" validate:"omitempty,url"`
	LegacyPersonsURL  string        `yaml:"legacyPersonsURL" validate:"omitempty,url"`
	APIKey            string        `yaml:"apiKey"`
	LegacyAPIKey      string        `yaml:"legacyAPIKey"`
	ProfileURI        string        `yaml:"profileURI" validate:"required"`
	SearchBatchSize   int           `yaml:"searchBatchSize" validate:"gt=0,ltefield=SearchPageSize"`
	SearchPageSize    int           `yaml:"searchPageSize" validate:"gt=0"`
	LegacyPageSize    int           `yaml:"legacyPageSize" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	OAuth             OAuthConfig   `yaml:"oauth"`
}

// OAuthConfig switches the registry client to client-credentials bearer
// tokens when ClientID is set.
type OAuthConfig struct {
	ClientID     string   `yaml:"clientID"`
	ClientSecret string   `yaml:"clientSecret" validate:"required_with=ClientID"`
	TokenURL     string   `yaml:"tokenURL" validate:"required_with=ClientID,omitempty,url"`
	Scopes       []string `yaml:"scopes"`
}

// PhotosConfig selects the photo store backend.
type PhotosConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=memory dir bolt s3 datastore"`
	Dir       string `yaml:"dir" validate:"required_if=Backend dir"`
	BoltPath  string `yaml:"boltPath" validate:"required_if=Backend bolt"`
	Bucket    string `yaml:"bucket" validate:"required_if=Backend s3"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	ProjectID string `yaml:"projectID" validate:"required_if=Backend datastore"`
	Kind      string `yaml:"kind"`
}

// ExportConfig names the snapshot and audit files. Names are relative to Dir.
type ExportConfig struct {
	Dir            string `yaml:"dir" validate:"required"`
	RecordsFile    string `yaml:"recordsFile" validate:"required"`
	IdentitiesFile string `yaml:"identitiesFile" validate:"required"`
	DocumentsFile  string `yaml:"documentsFile" validate:"required"`
}

// SyncConfig tunes the run itself.
type SyncConfig struct {
	// Concurrency bounds parallel lookup batches, photo downloads and merges.
	Concurrency int `yaml:"concurrency" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgatewayURL" validate:"omitempty,url"`
	Job            string `yaml:"job" validate:"required"`
}

// Options controls where Load looks.
type Options struct {
	// File is a YAML config file. Empty skips it.
	File string
	// FileOptional tolerates a missing File.
	FileOptional bool
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
	// Keyring fills API keys still empty after the other sources. Nil skips it.
	Keyring oskeyring.Service
}

// Load builds and validates a Config.
func Load(opts Options) (*Config, error) {
	cfg := Default()
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", opts.File, err)
			}
		case errors.Is(err, fs.ErrNotExist) && opts.FileOptional:
		default:
			return nil, fmt.Errorf("reading config file %s: %w", opts.File, err)
		}
	}
	if opts.EnvFile != "" {
		// godotenv.Load never overrides variables that are already set.
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file %s: %w", opts.EnvFile, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.fillFromKeyring(opts.Keyring); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Directory: DirectoryConfig{
			BaseURL:         "https://www.uu.nl",
			MaxFaculties:    25,
			MaxRecords:      1000,
			LookupBatchSize: 50,
			UserAgent:       "Mozilla/5.0",
			HarvestFile:     "uustaff_harvest.json",
			Timeout:         60 * time.Second,
		},
		Registry: RegistryConfig{
			ProfileURI:      "/dk/atira/pure/person/customfields/portal_profile_en",
			SearchBatchSize: 50,
			SearchPageSize:  100,
			LegacyPageSize:  20,
			Timeout:         60 * time.Second,
		},
		Photos: PhotosConfig{
			Backend:  "dir",
			Dir:      "photos",
			BoltPath: "photos.db",
			Kind:     "ProfilePhoto",
		},
		Export: ExportConfig{
			Dir:            "files",
			RecordsFile:    "uustaff_results.csv",
			IdentitiesFile: "active_persons.csv",
			DocumentsFile:  "input_for_pure.json",
		},
		Sync:    SyncConfig{Concurrency: 1},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Job: "staffsync"},
	}
}

// RequireRegistry reports the registry settings a run against the registry
// cannot do without.
func (c *Config) RequireRegistry() error {
	var missing []string
	if c.Registry.BaseURL == "" {
		missing = append(missing, "registry.baseURL")
	}
	if c.Registry.LegacyPersonsURL == "" {
		missing = append(missing, "registry.legacyPersonsURL")
	}
	if c.Registry.APIKey == "" && c.Registry.OAuth.ClientID == "" {
		missing = append(missing, "registry.apiKey")
	}
	if c.Registry.LegacyAPIKey == "" {
		missing = append(missing, "registry.legacyAPIKey")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing registry configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) fillFromKeyring(svc oskeyring.Service) error {
	var err error
	if c.Registry.APIKey, err = oskeyring.Fill(svc, oskeyring.RegistryAPIKey, c.Registry.APIKey); err != nil {
		return err
	}
	if c.Registry.LegacyAPIKey, err = oskeyring.Fill(svc, oskeyring.RegistryLegacyAPIKey, c.Registry.LegacyAPIKey); err != nil {
		return err
	}
	return nil
}

const envPrefix = "STAFFSYNC_"

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"DIRECTORY_BASE_URL":           &cfg.Directory.BaseURL,
		"DIRECTORY_USER_AGENT":         &cfg.Directory.UserAgent,
		"DIRECTORY_HARVEST_FILE":       &cfg.Directory.HarvestFile,
		"REGISTRY_BASE_URL":            &cfg.Registry.BaseURL,
		"REGISTRY_SEARCH_URL":          &cfg.Registry.SearchURL,
		"REGISTRY_LEGACY_PERSONS_URL":  &cfg.Registry.LegacyPersonsURL,
		"REGISTRY_API_KEY":             &cfg.Registry.APIKey,
		"REGISTRY_LEGACY_API_KEY":      &cfg.Registry.LegacyAPIKey,
		"REGISTRY_PROFILE_URI":         &cfg.Registry.ProfileURI,
		"REGISTRY_OAUTH_CLIENT_ID":     &cfg.Registry.OAuth.ClientID,
		"REGISTRY_OAUTH_CLIENT_SECRET": &cfg.Registry.OAuth.ClientSecret,
		"REGISTRY_OAUTH_TOKEN_URL":     &cfg.Registry.OAuth.TokenURL,
		"PHOTOS_BACKEND":               &cfg.Photos.Backend,
		"PHOTOS_DIR":                   &cfg.Photos.Dir,
		"PHOTOS_BOLT_PATH":             &cfg.Photos.BoltPath,
		"PHOTOS_BUCKET":                &cfg.Photos.Bucket,
		"PHOTOS_PREFIX":                &cfg.Photos.Prefix,
		"PHOTOS_REGION":                &cfg.Photos.Region,
		"PHOTOS_ENDPOINT":              &cfg.Photos.Endpoint,
		"PHOTOS_PROJECT_ID":            &cfg.Photos.ProjectID,
		"EXPORT_DIR":                   &cfg.Export.Dir,
		"LOG_LEVEL":                    &cfg.Logging.Level,
		"LOG_FORMAT":                   &cfg.Logging.Format,
		"METRICS_PUSHGATEWAY_URL":      &cfg.Metrics.PushgatewayURL,
	}
	for name, dst := range strs {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DIRECTORY_MAX_FACULTIES":     &cfg.Directory.MaxFaculties,
		"DIRECTORY_MAX_RECORDS":       &cfg.Directory.MaxRecords,
		"DIRECTORY_LOOKUP_BATCH_SIZE": &cfg.Directory.LookupBatchSize,
		"REGISTRY_SEARCH_BATCH_SIZE":  &cfg.Registry.SearchBatchSize,
		"REGISTRY_SEARCH_PAGE_SIZE":   &cfg.Registry.SearchPageSize,
		"REGISTRY_LEGACY_PAGE_SIZE":   &cfg.Registry.LegacyPageSize,
		"SYNC_CONCURRENCY":            &cfg.Sync.Concurrency,
	}
	for name, dst := range ints {
		v := os.Getenv(envPrefix + name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"DIRECTORY_REQUESTS_PER_SECOND": &cfg.Directory.RequestsPerSecond,
		"REGISTRY_REQUESTS_PER_SECOND":  &cfg.Registry.RequestsPerSecond,
	}
	for name, dst := range floats {
		v := os.Getenv(envPrefix + name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = f
	}
	return nil
}
