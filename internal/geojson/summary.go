package geojson

import "encoding/json"

// GroupSummary aggregates the bounding region and feature count for one
// group identifier (airport code).
type GroupSummary struct {
	Code         string
	Bounds       Bounds
	FeatureCount int
}

type groupSummaryJSON struct {
	Code         string    `json:"code"`
	Bounds       []float64 `json:"bounds"`
	Center       []float64 `json:"center"`
	FeatureCount int       `json:"feature_count"`
}

// MarshalJSON renders the summary in the wire shape
// {"code","bounds":[minLon,minLat,maxLon,maxLat],"center":[lon,lat],"feature_count"}.
// Bounds and center are omitted until at least one point has contributed.
func (s GroupSummary) MarshalJSON() ([]byte, error) {
	out := groupSummaryJSON{
		Code:         s.Code,
		FeatureCount: s.FeatureCount,
	}
	if s.Bounds.Valid() {
		out.Bounds = []float64{s.Bounds.MinLon, s.Bounds.MinLat, s.Bounds.MaxLon, s.Bounds.MaxLat}
		lon, lat := s.Bounds.Center()
		out.Center = []float64{lon, lat}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the wire shape produced by MarshalJSON.
func (s *GroupSummary) UnmarshalJSON(data []byte) error {
	var in groupSummaryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.Code = in.Code
	s.FeatureCount = in.FeatureCount
	s.Bounds = NewBounds()
	if len(in.Bounds) == 4 {
		s.Bounds = Bounds{
			MinLon: in.Bounds[0],
			MinLat: in.Bounds[1],
			MaxLon: in.Bounds[2],
			MaxLat: in.Bounds[3],
		}
	}
	return nil
}
