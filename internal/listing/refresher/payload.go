package refresher

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/example/rentscout/internal/listing/domain"
)

// DefaultSource names rows whose payload does not carry a source.
const DefaultSource = "houseprice"

// Item is one normalized listing from a crawler snapshot.
type Item struct {
	SourceID string
	Source   string
	URL      string
	Title    string
	Price    int
	SizePing float64
	Address  string
	City     string
	District string
	Lat      float64
	Lng      float64
}

func (i Item) toListing(now time.Time) domain.Listing {
	address := i.Address
	if address == "" {
		address = i.Title
	}
	return domain.Listing{
		SourceID:    i.SourceID,
		Source:      i.Source,
		URL:         i.URL,
		Title:       i.Title,
		Price:       i.Price,
		SizePing:    i.SizePing,
		Address:     address,
		City:        i.City,
		District:    i.District,
		Lat:         i.Lat,
		Lng:         i.Lng,
		Active:      true,
		LastUpdated: now,
		CreatedAt:   now,
	}
}

// rawItem tolerates the shape drift across crawler versions: prices and
// sizes arrive as numbers or decorated strings, region fields under several
// names.
type rawItem struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	Price        flexNumber `json:"price"`
	Size         flexNumber `json:"size"`
	Address      string     `json:"address"`
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	City         string     `json:"city"`
	DetectedCity string     `json:"detected_city"`
	District     string     `json:"district"`
	Source       string     `json:"source"`
}

// container matches the wrapper objects different crawler versions emit.
type container struct {
	Data     []rawItem `json:"data"`
	Listings []rawItem `json:"listings"`
	Items    []rawItem `json:"items"`
}

var sourceIDFromURL = regexp.MustCompile(`/house/([^/?#]+)`)

// ParseItems decodes a crawler snapshot: either a bare JSON array or an
// object wrapping one under "data", "listings" or "items".
func ParseItems(payload []byte) ([]Item, error) {
	var raws []rawItem
	if err := json.Unmarshal(payload, &raws); err != nil {
		var wrapped container
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		switch {
		case len(wrapped.Data) > 0:
			raws = wrapped.Data
		case len(wrapped.Listings) > 0:
			raws = wrapped.Listings
		case len(wrapped.Items) > 0:
			raws = wrapped.Items
		default:
			return nil, fmt.Errorf("snapshot carries no recognizable listing array")
		}
	}

	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		items = append(items, normalize(raw))
	}
	return items, nil
}

func normalize(raw rawItem) Item {
	sourceID := raw.ID
	if sourceID == "" && raw.URL != "" {
		if m := sourceIDFromURL.FindStringSubmatch(raw.URL); m != nil {
			sourceID = m[1]
		}
	}
	source := raw.Source
	if source == "" {
		source = DefaultSource
	}
	city := raw.City
	if city == "" {
		city = raw.DetectedCity
	}
	return Item{
		SourceID: sourceID,
		Source:   source,
		URL:      raw.URL,
		Title:    raw.Title,
		Price:    int(raw.Price),
		SizePing: float64(raw.Size),
		Address:  raw.Address,
		City:     city,
		District: raw.District,
		Lat:      raw.Latitude,
		Lng:      raw.Longitude,
	}
}

// flexNumber decodes JSON numbers or decorated numeric strings such as
// "12,000元" or "8坪".
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] != '"' {
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexNumber(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexNumber(v)
	return nil
}
