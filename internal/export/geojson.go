// Package export writes merged geocoding results as GeoJSON, CSV, and an
// unresolved-address report.
package export

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/address-mapper/internal/resolve"
)

// NameProperty carries the hover label of each feature.
const NameProperty = "name"

// FeatureCollection builds one Point feature per resolved row of a merged
// table. Rows without coordinates are skipped. Every original column becomes
// a property, and hoverField's value replaces the "name" property.
func FeatureCollection(merged resolve.Table, hoverField string) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(merged.Rows))}
	for i, rec := range merged.Rows {
		lat, okLat := rec[resolve.ColumnLatitude].(float64)
		lon, okLon := rec[resolve.ColumnLongitude].(float64)
		if !okLat || !okLon {
			continue
		}

		props := make(map[string]any, len(merged.Columns)+1)
		for _, col := range merged.Columns {
			switch col {
			case resolve.ColumnLatitude, resolve.ColumnLongitude, resolve.ColumnFailed:
				continue
			}
			props[col] = rec[col]
		}
		if hoverField != "" {
			props[NameProperty] = rec[hoverField]
		}

		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.Itoa(i),
			Geometry:   geom.NewPointFlat(geom.XY, []float64{lon, lat}),
			Properties: props,
		})
	}
	return fc
}

// WriteGeoJSON writes the resolved rows of merged as a GeoJSON FeatureCollection.
func WriteGeoJSON(w io.Writer, merged resolve.Table, hoverField string) error {
	data, err := json.Marshal(FeatureCollection(merged, hoverField))
	if err != nil {
		return eris.Wrap(err, "export: marshal geojson")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "export: write geojson")
	}
	return nil
}
