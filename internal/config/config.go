package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maine/newsdigestbot/internal/news"
)

// Root aggregates the static YAML configuration blocks.
type Root struct {
	Pipeline Pipeline `yaml:"pipeline"`
	Market   Market   `yaml:"market"`
}

// Pipeline carries the selection/assembly knobs of §4.3 and §4.5.
type Pipeline struct {
	ItemsPerCategory     int      `yaml:"items_per_category"`      // always 5 per spec; loaded but not read — the selection engine uses a fixed count of 5
	HorizonHours         int      `yaml:"horizon_hours"`           // default 3
	FallbackHorizonHours int      `yaml:"fallback_horizon_hours"`  // default 48
	PerSourceCap         int      `yaml:"per_source_cap"`          // default 3
	Countries            []string `yaml:"countries"`               // holiday lookups; only the first entry is used
	DefaultLocation      string   `yaml:"default_location"`        // weather lookups
}

// Market carries the crypto composer's tunables.
type Market struct {
	GainersLosersCount int     `yaml:"gainers_losers_count"` // default 5
	MinVolumeUSD       float64 `yaml:"min_volume_usd"`       // dead-volume floor
	SnapshotCacheSecs  int     `yaml:"snapshot_cache_seconds"`
	CommentaryCacheSecs int    `yaml:"commentary_cache_seconds"`
}

// SitesRoot is the static source catalogue: 40-60 RSS/Atom feeds across the
// five categories.
type SitesRoot struct {
	Sites []news.Source `yaml:"sites"`
}

// LoadRoot reads the main pipeline/market configuration file.
func LoadRoot(path string) (Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Root{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Root
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Root{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (r *Root) applyDefaults() {
	if r.Pipeline.ItemsPerCategory <= 0 {
		r.Pipeline.ItemsPerCategory = 5
	}
	if r.Pipeline.HorizonHours <= 0 {
		r.Pipeline.HorizonHours = 3
	}
	if r.Pipeline.FallbackHorizonHours <= 0 {
		r.Pipeline.FallbackHorizonHours = 48
	}
	if r.Pipeline.PerSourceCap <= 0 {
		r.Pipeline.PerSourceCap = 3
	}
	if r.Market.GainersLosersCount <= 0 {
		r.Market.GainersLosersCount = 5
	}
	if r.Market.SnapshotCacheSecs <= 0 {
		r.Market.SnapshotCacheSecs = 180
	}
	if r.Market.CommentaryCacheSecs <= 0 {
		r.Market.CommentaryCacheSecs = 30
	}
}

// LoadSites reads the source catalogue.
func LoadSites(path string) (SitesRoot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SitesRoot{}, fmt.Errorf("read sites config: %w", err)
	}

	var cfg SitesRoot
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SitesRoot{}, fmt.Errorf("unmarshal sites config: %w", err)
	}
	for i := range cfg.Sites {
		if cfg.Sites[i].ReliabilityWeight == 0 {
			cfg.Sites[i].ReliabilityWeight = 1.0
		}
	}
	return cfg, nil
}
