// Package config handles application configuration from environment variables
// and the dashboard file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"homedash/internal/filter"
	"homedash/internal/model"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	PollInterval     time.Duration
	DashboardFile    string
	GmailMaxResults  int
	// IDSetRetention bounds how long read and deleted ids are kept.
	// Zero keeps them forever.
	IDSetRetention time.Duration
	Dashboard      Dashboard
}

// Dashboard is the static part of the configuration: what to monitor.
type Dashboard struct {
	Sites   []SiteConfig   `yaml:"sites"`
	Weather *WeatherConfig `yaml:"weather"`
	News    NewsConfig     `yaml:"news"`
}

// SiteConfig describes one monitored WordPress site.
type SiteConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// WeatherConfig is the location whose current conditions are shown.
type WeatherConfig struct {
	Label     string  `yaml:"label"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// NewsConfig lists the news feeds and the topic rules applied to them.
type NewsConfig struct {
	Feeds []string          `yaml:"feeds"`
	Rules []model.TopicRule `yaml:"rules"`
}

// Load reads configuration from environment variables and the dashboard file.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/dashboard.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	var allowedUsers []int64
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}

	interval := 60 * time.Second
	if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < time.Second {
			return nil, fmt.Errorf("invalid POLL_INTERVAL %q: must be a duration of at least 1s", raw)
		}
		interval = d
	}

	maxResults := 20
	if raw := os.Getenv("GMAIL_MAX_RESULTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			return nil, fmt.Errorf("invalid GMAIL_MAX_RESULTS %q: must be between 1 and 500", raw)
		}
		maxResults = n
	}

	var retention time.Duration
	if raw := os.Getenv("IDSET_RETENTION_DAYS"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 0 {
			return nil, fmt.Errorf("invalid IDSET_RETENTION_DAYS %q", raw)
		}
		retention = time.Duration(days) * 24 * time.Hour
	}

	dashFile := os.Getenv("DASHBOARD_FILE")
	if dashFile == "" {
		dashFile = "./dashboard.yaml"
	}
	dash, err := LoadDashboard(dashFile)
	if err != nil {
		return nil, err
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     dbPath,
		LogLevel:         logLevel,
		AllowedUsers:     allowedUsers,
		PollInterval:     interval,
		DashboardFile:    dashFile,
		GmailMaxResults:  maxResults,
		IDSetRetention:   retention,
		Dashboard:        dash,
	}, nil
}

// LoadDashboard reads the dashboard file at path. A missing file yields an
// empty dashboard. ${VAR} references are expanded from the environment so
// that site secrets can stay out of the file.
func LoadDashboard(path string) (Dashboard, error) {
	var d Dashboard

	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return d, fmt.Errorf("read dashboard file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &d); err != nil {
		return d, fmt.Errorf("parse dashboard file: %w", err)
	}
	if err := d.validate(); err != nil {
		return d, fmt.Errorf("dashboard file %s: %w", path, err)
	}
	return d, nil
}

func (d *Dashboard) validate() error {
	seen := make(map[string]bool)
	for i := range d.Sites {
		s := &d.Sites[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return fmt.Errorf("site %d: id is required", i)
		}
		if strings.Contains(s.ID, ":") {
			return fmt.Errorf("site %q: id must not contain ':'", s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("site %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
		if !validURL(s.URL) {
			return fmt.Errorf("site %q: invalid url %q", s.ID, s.URL)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
	}

	if w := d.Weather; w != nil {
		if w.Latitude < -90 || w.Latitude > 90 || w.Longitude < -180 || w.Longitude > 180 {
			return fmt.Errorf("weather: coordinates out of range")
		}
	}

	for _, f := range d.News.Feeds {
		if !validURL(f) {
			return fmt.Errorf("news: invalid feed url %q", f)
		}
	}
	if err := filter.ValidateRules(d.News.Rules); err != nil {
		return fmt.Errorf("news rules: %w", err)
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// MonitoredSites seeds the health monitor from the configured sites.
func (d Dashboard) MonitoredSites() []model.MonitoredSite {
	sites := make([]model.MonitoredSite, 0, len(d.Sites))
	for _, s := range d.Sites {
		sites = append(sites, model.MonitoredSite{
			ID:     s.ID,
			Name:   s.Name,
			URL:    s.URL,
			Secret: s.Secret,
			Status: model.StatusUnknown,
		})
	}
	return sites
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}
