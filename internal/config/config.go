package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/errwrap"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/geom"
)

// GroupConfig describes one spawn group
type GroupConfig struct {
	ID        int     `yaml:"id" json:"id"`
	Size      int     `yaml:"size" json:"size"`
	Radius    float64 `yaml:"radius" json:"radius"`         // follower offset radius
	SpeedKmh  float64 `yaml:"speed_kmh" json:"speed_kmh"`   // group speed
	StartTime float64 `yaml:"start_time" json:"start_time"` // spawn time of every member
}

// Speed returns the group speed in m/s
func (g GroupConfig) Speed() float64 {
	return device.KmhToMs(g.SpeedKmh)
}

// APIConfig configures the HTTP observer endpoint
type APIConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	BindAddr string `yaml:"bind_addr" json:"bind_addr"`
	Port     int    `yaml:"port" json:"port"`
}

// SwimConfig configures the membership node publishing round summaries
type SwimConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	NodeName string   `yaml:"node_name" json:"node_name"` // empty means run id
	BindAddr string   `yaml:"bind_addr" json:"bind_addr"` // empty means private IP
	Port     int      `yaml:"port" json:"port"`
	Join     []string `yaml:"join" json:"join"`
}

// SimConfig is the whole simulation setup
type SimConfig struct {
	// Area
	Width     float64     `yaml:"width" json:"width"`
	Height    float64     `yaml:"height" json:"height"`
	Obstacles []geom.Rect `yaml:"obstacles" json:"obstacles"`
	GridCell  float64     `yaml:"grid_cell" json:"grid_cell"`   // navigation grid resolution
	PathCache int         `yaml:"path_cache" json:"path_cache"` // cached navigation paths

	// Network
	CommunicationRange float64 `yaml:"communication_range" json:"communication_range"`
	Retain             int     `yaml:"retain" json:"retain"`             // rounds an export stays visible
	MessageLoss        float64 `yaml:"message_loss" json:"message_loss"` // probability a device round is not delivered

	// Rounds
	Period   float64 `yaml:"period" json:"period"`     // simulated seconds per round
	EndTime  float64 `yaml:"end_time" json:"end_time"` // simulated time to stop at, 0 runs forever
	Workers  int     `yaml:"workers" json:"workers"`   // parallel device evaluations
	Realtime bool    `yaml:"realtime" json:"realtime"` // pace rounds with the wall clock
	Seed     int64   `yaml:"seed" json:"seed"`         // 0 picks a random seed
	LogEvery int     `yaml:"log_every" json:"log_every"`

	// Propositions
	WarningRadius float64 `yaml:"warning_radius" json:"warning_radius"` // 0 means a quarter of the range
	WarningCount  int     `yaml:"warning_count" json:"warning_count"`
	ClusterCount  int     `yaml:"cluster_count" json:"cluster_count"`

	Groups []GroupConfig `yaml:"groups" json:"groups"`

	API  APIConfig  `yaml:"api" json:"api"`
	Swim SwimConfig `yaml:"swim" json:"swim"`
}

// DefaultConfig returns the reference scenario: a 1200x800 area with a
// biker, a strolling crowd, two walking groups and a running one
func DefaultConfig() *SimConfig {
	return &SimConfig{
		Width:              1200,
		Height:             800,
		GridCell:           10,
		PathCache:          4096,
		CommunicationRange: 100,
		Retain:             3,
		Period:             1,
		EndTime:            300,
		Workers:            4,
		LogEvery:           10,
		WarningCount:       5,
		ClusterCount:       3,
		Groups: []GroupConfig{
			{ID: 0, Size: 1, Radius: 0, SpeedKmh: 20},
			{ID: 1, Size: 20, Radius: 50, SpeedKmh: 3},
			{ID: 2, Size: 10, Radius: 20, SpeedKmh: 5},
			{ID: 3, Size: 10, Radius: 80, SpeedKmh: 5},
			{ID: 4, Size: 40, Radius: 200, SpeedKmh: 10},
		},
		API: APIConfig{
			Enabled:  true,
			BindAddr: "0.0.0.0",
			Port:     8080,
		},
		Swim: SwimConfig{
			Port: 7946,
		},
	}
}

// Load reads a YAML scenario on top of the defaults
func Load(path string) (*SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errwrap.Wrapf("failed to read config: {{err}}", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errwrap.Wrapf("failed to parse config: {{err}}", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the file if there is one, otherwise returns defaults
func LoadOrDefault(path string) (*SimConfig, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Area returns the simulated rectangle
func (c *SimConfig) Area() geom.Rect {
	return geom.NewRect(0, 0, c.Width, c.Height)
}

// EffectiveWarningRadius resolves the default warning radius
func (c *SimConfig) EffectiveWarningRadius() float64 {
	if c.WarningRadius > 0 {
		return c.WarningRadius
	}
	return 0.25 * c.CommunicationRange
}

// Devices returns the total number of devices across groups
func (c *SimConfig) Devices() int {
	n := 0
	for _, g := range c.Groups {
		n += g.Size
	}
	return n
}

// Validate checks every bound and reports all violations at once
func (c *SimConfig) Validate() error {
	var result *multierror.Error

	if c.Width <= 0 || c.Height <= 0 {
		result = multierror.Append(result, fmt.Errorf("area must be positive, got %gx%g", c.Width, c.Height))
	}
	if c.CommunicationRange <= 0 {
		result = multierror.Append(result, fmt.Errorf("communication_range must be positive, got %g", c.CommunicationRange))
	}
	if c.Retain < 1 {
		result = multierror.Append(result, fmt.Errorf("retain must be at least 1 round, got %d", c.Retain))
	}
	if c.Period <= 0 {
		result = multierror.Append(result, fmt.Errorf("period must be positive, got %g", c.Period))
	}
	if c.EndTime < 0 {
		result = multierror.Append(result, fmt.Errorf("end_time must not be negative, got %g", c.EndTime))
	}
	if c.MessageLoss < 0 || c.MessageLoss >= 1 {
		result = multierror.Append(result, fmt.Errorf("message_loss must be in [0,1), got %g", c.MessageLoss))
	}
	if c.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.WarningRadius < 0 {
		result = multierror.Append(result, fmt.Errorf("warning_radius must not be negative, got %g", c.WarningRadius))
	}
	if c.WarningCount < 0 || c.ClusterCount < 0 {
		result = multierror.Append(result, fmt.Errorf("proposition counts must not be negative"))
	}
	if len(c.Obstacles) > 0 && c.GridCell <= 0 {
		result = multierror.Append(result, fmt.Errorf("grid_cell must be positive when obstacles are set, got %g", c.GridCell))
	}
	if len(c.Groups) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one group is required"))
	}

	seen := make(map[int]bool)
	for i, g := range c.Groups {
		if g.ID < 0 {
			result = multierror.Append(result, fmt.Errorf("group #%d: id must be >= 0, got %d", i, g.ID))
		}
		if g.Size < 1 || g.Size >= device.MaxGroupSize {
			result = multierror.Append(result, fmt.Errorf("group #%d (id %d): size must be in [1,%d), got %d",
				i, g.ID, device.MaxGroupSize, g.Size))
		}
		if g.Radius < 0 {
			result = multierror.Append(result, fmt.Errorf("group #%d (id %d): radius must be >= 0, got %g", i, g.ID, g.Radius))
		}
		if g.SpeedKmh < 0 {
			result = multierror.Append(result, fmt.Errorf("group #%d (id %d): speed must be >= 0, got %g", i, g.ID, g.SpeedKmh))
		}
		if g.StartTime < 0 {
			result = multierror.Append(result, fmt.Errorf("group #%d (id %d): start_time must be >= 0, got %g", i, g.ID, g.StartTime))
		}
		if seen[g.ID] {
			result = multierror.Append(result, fmt.Errorf("group #%d: duplicate id %d", i, g.ID))
		}
		seen[g.ID] = true
	}

	if c.API.Enabled && (c.API.Port < 0 || c.API.Port > 65535) {
		result = multierror.Append(result, fmt.Errorf("api port out of range: %d", c.API.Port))
	}
	if c.Swim.Enabled && (c.Swim.Port < 0 || c.Swim.Port > 65535) {
		result = multierror.Append(result, fmt.Errorf("swim port out of range: %d", c.Swim.Port))
	}

	return result.ErrorOrNil()
}

// SortedGroups returns the groups ordered by start time, then id
func (c *SimConfig) SortedGroups() []GroupConfig {
	groups := make([]GroupConfig, len(c.Groups))
	copy(groups, c.Groups)
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].StartTime != groups[j].StartTime {
			return groups[i].StartTime < groups[j].StartTime
		}
		return groups[i].ID < groups[j].ID
	})
	return groups
}
