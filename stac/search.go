package stac

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const DefaultPageLimit = 100

// SearchParams is the body of a STAC API item search.
type SearchParams struct {
	Collections []string               `json:"collections,omitempty"`
	Intersects  json.RawMessage        `json:"intersects,omitempty"`
	BBox        []float64              `json:"bbox,omitempty"`
	Datetime    string                 `json:"datetime,omitempty"`
	Query       map[string]interface{} `json:"query,omitempty"`
	Limit       int                    `json:"limit,omitempty"`
	IDs         []string               `json:"ids,omitempty"`
}

const dateLayout = "2006-01-02"

func parseRangeEnd(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == ".." {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid datetime %q, expected YYYY-MM-DD or RFC 3339", s)
}

// ParseDatetimeRange validates a 'YYYY-MM-DD/YYYY-MM-DD' range or a
// single date. Either end of a range may be open ("..").
func ParseDatetimeRange(datetime string) (*time.Time, *time.Time, error) {
	parts := strings.Split(datetime, "/")
	switch len(parts) {
	case 1:
		t, err := parseRangeEnd(parts[0])
		if err != nil {
			return nil, nil, err
		}
		if t == nil {
			return nil, nil, fmt.Errorf("datetime must not be empty")
		}
		return t, t, nil
	case 2:
		start, err := parseRangeEnd(parts[0])
		if err != nil {
			return nil, nil, err
		}
		end, err := parseRangeEnd(parts[1])
		if err != nil {
			return nil, nil, err
		}
		if start == nil && end == nil {
			return nil, nil, fmt.Errorf("datetime range %q is open on both ends", datetime)
		}
		if start != nil && end != nil && end.Before(*start) {
			return nil, nil, fmt.Errorf("datetime range %q ends before it starts", datetime)
		}
		return start, end, nil
	default:
		return nil, nil, fmt.Errorf("invalid datetime range %q", datetime)
	}
}

// Validate checks the parameters before they are sent.
func (p *SearchParams) Validate() error {
	if len(p.Collections) == 0 {
		return fmt.Errorf("search needs at least one collection")
	}
	if len(p.Intersects) > 0 && len(p.BBox) > 0 {
		return fmt.Errorf("intersects and bbox are mutually exclusive")
	}
	if len(p.BBox) != 0 && len(p.BBox) != 4 && len(p.BBox) != 6 {
		return fmt.Errorf("bbox must have 4 or 6 values, got %d", len(p.BBox))
	}
	if p.Datetime != "" {
		if _, _, err := ParseDatetimeRange(p.Datetime); err != nil {
			return err
		}
	}
	return nil
}

func (p *SearchParams) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%+v", *p)
	}
	return string(b)
}
