package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// LoadStatsFile reads per-artist stats from a YAML or JSON file, chosen by
// extension. The file is a mapping from artist name to ArtistStat; a missing
// name field is filled from the key.
func LoadStatsFile(path string) (map[string]ArtistStat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stats file: %w", err)
	}

	stats := make(map[string]ArtistStat)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &stats)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &stats)
	default:
		return nil, fmt.Errorf("unsupported stats file extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing stats file %s: %w", path, err)
	}

	for name, s := range stats {
		if s.Name == "" {
			s.Name = name
			stats[name] = s
		}
	}
	return stats, nil
}
