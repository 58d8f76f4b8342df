package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

// Loader builds layer indexes from dataset files in a directory.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new dataset loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load implements output.IndexLoader. The first existing file named
// <layer><ext>, over domain.DatasetExtensions, is used.
func (l *Loader) Load(ctx context.Context, directory string, layer domain.Layer) (output.LayerIndex, error) {
	path, err := FindDataset(directory, layer)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	var places []Place
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite":
		places, err = LoadSQLite(ctx, path)
	default:
		places, err = LoadGeoJSON(path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	idx, err := New(layer, places)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", path, err)
	}

	l.logger.Info("layer index built",
		"layer", layer,
		"path", path,
		"places", idx.Len(),
		"duration", time.Since(start),
	)
	return idx, nil
}

// FindDataset returns the dataset file of layer in directory.
func FindDataset(directory string, layer domain.Layer) (string, error) {
	for _, ext := range domain.DatasetExtensions {
		path := filepath.Join(directory, layer+ext)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no dataset for %s in %s: %w", layer, directory, domain.ErrLayerNotFound)
}

// Property names, Who's On First first.
var (
	idKeys        = []string{"wof:id", "id"}
	nameKeys      = []string{"wof:name", "name"}
	placetypeKeys = []string{"wof:placetype", "placetype"}
	hierarchyKeys = []string{"wof:hierarchy", "hierarchy"}
)

// LoadGeoJSON reads the places of a GeoJSON FeatureCollection.
func LoadGeoJSON(path string) ([]Place, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path built from configured data directory
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing feature collection: %w", err)
	}

	places := make([]Place, 0, len(fc.Features))
	for n, f := range fc.Features {
		id, ok := featureID(f)
		if !ok {
			return nil, fmt.Errorf("feature %d: missing id", n)
		}

		places = append(places, Place{
			ID:        id,
			Name:      stringProperty(f.Properties, nameKeys),
			Placetype: stringProperty(f.Properties, placetypeKeys),
			Hierarchy: hierarchyProperty(f.Properties, hierarchyKeys),
			Geometry:  f.Geometry,
		})
	}
	return places, nil
}

// LoadSQLite reads the places table of a SQLite dataset. Hierarchy is a
// JSON array of objects, geometry a GeoJSON geometry.
func LoadSQLite(ctx context.Context, path string) ([]Place, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `
		SELECT id, name, placetype, hierarchy, geometry
		FROM places
		ORDER BY rowid
	`)
	if err != nil {
		return nil, &domain.StorageError{Operation: "query", Key: path, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var places []Place
	for rows.Next() {
		var (
			p         Place
			name      sql.NullString
			placetype sql.NullString
			hierarchy sql.NullString
			geometry  []byte
		)
		if err := rows.Scan(&p.ID, &name, &placetype, &hierarchy, &geometry); err != nil {
			return nil, fmt.Errorf("scanning place: %w", err)
		}
		p.Name = name.String
		p.Placetype = placetype.String

		if hierarchy.Valid && hierarchy.String != "" {
			if err := json.Unmarshal([]byte(hierarchy.String), &p.Hierarchy); err != nil {
				return nil, fmt.Errorf("place %d: hierarchy: %w", p.ID, err)
			}
		}

		if len(geometry) > 0 {
			g, err := geojson.UnmarshalGeometry(geometry)
			if err != nil {
				return nil, fmt.Errorf("place %d: geometry: %w", p.ID, err)
			}
			p.Geometry = g.Geometry()
		}

		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return places, nil
}

func featureID(f *geojson.Feature) (int64, bool) {
	for _, key := range idKeys {
		if id, ok := toInt64(f.Properties[key]); ok {
			return id, true
		}
	}
	return toInt64(f.ID)
}

func stringProperty(props geojson.Properties, keys []string) string {
	for _, key := range keys {
		if s, ok := props[key].(string); ok {
			return s
		}
	}
	return ""
}

func hierarchyProperty(props geojson.Properties, keys []string) []domain.Hierarchy {
	for _, key := range keys {
		entries, ok := props[key].([]interface{})
		if !ok {
			continue
		}

		hierarchy := make([]domain.Hierarchy, 0, len(entries))
		for _, raw := range entries {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			h := make(domain.Hierarchy, len(m))
			for k, v := range m {
				if id, ok := toInt64(v); ok {
					h[k] = id
				}
			}
			hierarchy = append(hierarchy, h)
		}
		return hierarchy
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}
