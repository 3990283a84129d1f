package geo

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/enviroquery/aqroute/internal/model"
)

// Catalog holds the three flat name→code maps, loaded once at startup and
// treated as immutable afterwards.
type Catalog struct {
	Stations  map[string]string `yaml:"stations"`
	Districts map[string]string `yaml:"districts"`
	Cities    map[string]string `yaml:"cities"`
}

// LoadCatalog reads a catalog YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: read catalog %s", path)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrapf(err, "geo: parse catalog %s", path)
	}
	return &cat, nil
}

// ByLevel returns the name→code map for one administrative level.
func (c *Catalog) ByLevel(level model.Level) map[string]string {
	switch level {
	case model.LevelStation:
		return c.Stations
	case model.LevelDistrict:
		return c.Districts
	case model.LevelCity:
		return c.Cities
	default:
		return nil
	}
}

// Size returns the total number of catalog entries across levels.
func (c *Catalog) Size() int {
	return len(c.Stations) + len(c.Districts) + len(c.Cities)
}

// Code looks up the exact code for a name at a level.
func (c *Catalog) Code(level model.Level, name string) (string, bool) {
	code, ok := c.ByLevel(level)[name]
	return code, ok
}
