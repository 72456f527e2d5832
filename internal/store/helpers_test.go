package store

import (
	"github.com/sells-group/address-mapper/internal/resolve"
	"github.com/sells-group/address-mapper/pkg/geocode"
)

func sampleOutcomes() []resolve.Outcome {
	return []resolve.Outcome{
		{Index: 0, Key: "221B Baker Street", Result: geocode.Resolved(geocode.Coordinate{Lat: 51.523, Lon: -0.158})},
		{Index: 1, Result: geocode.Unresolved(geocode.ReasonInvalidAddress), Failed: true},
		{Index: 2, Key: "Nowhere, Nowhereland", Result: geocode.Unresolved(geocode.ReasonNotFound), Failed: true},
	}
}
