// Package snapshot reads the Find My items cache file and decides which
// items moved since the previous poll.
package snapshot

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"waypointrelay/internal/model"
)

// SourceUnavailableError reports that the snapshot file could not be read
// or decoded. The poll loop surfaces it to the user and retains the
// previous item set; it is never fatal.
type SourceUnavailableError struct {
	Path string
	Err  error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("snapshot unavailable at %s: %v", e.Path, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// rawItem mirrors the on-disk record. Fields the file omits decode to zero
// values rather than failing the read.
type rawItem struct {
	Name          string       `json:"name"`
	SerialNumber  string       `json:"serialNumber"`
	BatteryStatus string       `json:"batteryStatus"`
	Location      *rawLocation `json:"location"`
}

type rawLocation struct {
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	TimeStamp          float64 `json:"timeStamp"`
	HorizontalAccuracy float64 `json:"horizontalAccuracy"`
	VerticalAccuracy   float64 `json:"verticalAccuracy"`
	Altitude           float64 `json:"altitude"`
}

// Read parses the snapshot file into tracked items. The raw timeStamp is
// epoch milliseconds; it is converted to epoch seconds here so everything
// downstream carries one convention. Records without a location object
// yield items with a nil Fix.
func Read(path string) ([]model.Item, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceUnavailableError{Path: path, Err: err}
	}

	var records []rawItem
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &SourceUnavailableError{Path: path, Err: fmt.Errorf("decode items: %w", err)}
	}

	items := make([]model.Item, 0, len(records))
	for _, rec := range records {
		item := model.Item{
			Name:          rec.Name,
			Serial:        rec.SerialNumber,
			BatteryStatus: rec.BatteryStatus,
		}
		if rec.Location != nil {
			item.Location = &model.Fix{
				Latitude:           rec.Location.Latitude,
				Longitude:          rec.Location.Longitude,
				Timestamp:          rec.Location.TimeStamp / 1000,
				HorizontalAccuracy: rec.Location.HorizontalAccuracy,
				VerticalAccuracy:   rec.Location.VerticalAccuracy,
				Altitude:           rec.Location.Altitude,
			}
		}
		items = append(items, item)
	}

	return items, nil
}
