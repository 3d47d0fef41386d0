package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tablero/internal/capacity"
	"tablero/internal/domain"
)

// Config models tablero.yml: the squad, its sprint shape and the schedule
// data the capacity calculator needs.
type Config struct {
	Squad struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"squad"`
	Sprint struct {
		Days int `yaml:"days"`
	} `yaml:"sprint"`
	// Profiles maps person id -> weekday name -> nominal hours. Weekdays
	// without an entry are non-working days.
	Profiles  map[string]map[string]float64 `yaml:"profiles"`
	Locations map[string]string             `yaml:"locations"`
	Holidays  map[string][]string           `yaml:"holidays"`
	Defaults  struct {
		Priority string `yaml:"priority"`
		Category string `yaml:"category"`
	} `yaml:"defaults"`
}

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tb squad config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Squad.ID == "" {
		return fmt.Errorf("config.squad.id is required")
	}
	if c.Sprint.Days < 1 || c.Sprint.Days > 30 {
		return fmt.Errorf("config.sprint.days must be in [1,30], got %d", c.Sprint.Days)
	}
	for person, profile := range c.Profiles {
		if person == "" {
			return fmt.Errorf("config.profiles contains empty person id")
		}
		for day, hours := range profile {
			if _, ok := weekdays[day]; !ok {
				return fmt.Errorf("profile %s has unknown weekday %q", person, day)
			}
			if hours < 0 || hours > 24 {
				return fmt.Errorf("profile %s %s hours %v outside [0,24]", person, day, hours)
			}
		}
	}
	for loc, dates := range c.Holidays {
		if loc == "" {
			return fmt.Errorf("config.holidays contains empty location")
		}
		for _, d := range dates {
			if _, err := time.Parse(capacity.DayFormat, d); err != nil {
				return fmt.Errorf("holiday %q for %s: %w", d, loc, err)
			}
		}
	}
	for person, loc := range c.Locations {
		if loc == "" {
			return fmt.Errorf("location for %s is empty", person)
		}
	}
	switch c.Defaults.Priority {
	case "", domain.PrioridadBaja, domain.PrioridadNormal, domain.PrioridadAlta, domain.PrioridadBloqueante:
	default:
		return fmt.Errorf("config.defaults.priority %q unknown", c.Defaults.Priority)
	}
	switch c.Defaults.Category {
	case "", domain.CategoriaCorrectivo, domain.CategoriaEvolutivo:
	default:
		return fmt.Errorf("config.defaults.category %q unknown", c.Defaults.Category)
	}
	return nil
}

// DefaultPriority returns the configured default task priority.
func (c *Config) DefaultPriority() string {
	if c.Defaults.Priority == "" {
		return domain.PrioridadNormal
	}
	return c.Defaults.Priority
}

// Calculator assembles a capacity calculator from the config's schedule data
// plus leave records loaded elsewhere.
func (c *Config) Calculator(vacations, absences []capacity.Leave) capacity.Calculator {
	profiles := make(map[string]capacity.WeeklyProfile, len(c.Profiles))
	for person, p := range c.Profiles {
		wp := capacity.WeeklyProfile{}
		for day, hours := range p {
			wp[weekdays[day]] = hours
		}
		profiles[person] = wp
	}
	holidays := make(map[string][]time.Time, len(c.Holidays))
	for loc, dates := range c.Holidays {
		for _, d := range dates {
			t, err := time.Parse(capacity.DayFormat, d)
			if err != nil {
				continue // Validate rejects these before we get here
			}
			holidays[loc] = append(holidays[loc], t)
		}
	}
	return capacity.Calculator{
		Profiles:  profiles,
		Locations: c.Locations,
		Holidays:  holidays,
		Vacations: vacations,
		Absences:  absences,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tablero.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(squadID string) string {
	return fmt.Sprintf(defaultTemplate, squadID)
}

// Default returns the default Config struct for a squad.
func Default(squadID string) *Config {
	var cfg Config
	cfg.Squad.ID = squadID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, squadID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `squad:
  id: %s
  name: ""

sprint:
  days: 10

profiles: {}

locations: {}

holidays: {}

defaults:
  priority: NORMAL
  category: EVOLUTIVO
`
