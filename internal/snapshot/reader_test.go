package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSnapshot(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Items.data")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

func TestReadConvertsMillisecondTimestamps(t *testing.T) {
	path := writeSnapshot(t, `[
		{
			"name": "Keys",
			"serialNumber": "ABCD",
			"batteryStatus": "Full",
			"location": {
				"latitude": 52.52,
				"longitude": 13.405,
				"timeStamp": 1700000000000,
				"horizontalAccuracy": 12.5,
				"verticalAccuracy": 4.0,
				"altitude": 34.0
			}
		}
	]`)

	items, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	item := items[0]
	if item.Name != "Keys" || item.Serial != "ABCD" || item.BatteryStatus != "Full" {
		t.Errorf("unexpected item fields: %+v", item)
	}
	if item.Location == nil {
		t.Fatal("expected a location")
	}
	if item.Location.Timestamp != 1700000000 {
		t.Errorf("expected timestamp in seconds (1700000000), got %v", item.Location.Timestamp)
	}
	if item.Location.Latitude != 52.52 || item.Location.Longitude != 13.405 {
		t.Errorf("unexpected coordinates: %+v", item.Location)
	}
}

func TestReadDefaultsMissingFields(t *testing.T) {
	path := writeSnapshot(t, `[
		{"serialNumber": "NOLOC"},
		{"name": "Partial", "serialNumber": "PART", "location": {"latitude": 1.0}}
	]`)

	items, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	if items[0].Location != nil {
		t.Errorf("expected nil location for record without one, got %+v", items[0].Location)
	}
	if items[0].Name != "" || items[0].BatteryStatus != "" {
		t.Errorf("expected zero defaults, got %+v", items[0])
	}

	loc := items[1].Location
	if loc == nil {
		t.Fatal("expected a location for partial record")
	}
	if loc.Latitude != 1.0 || loc.Longitude != 0 || loc.Timestamp != 0 {
		t.Errorf("expected zero defaults for missing location fields, got %+v", loc)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}

	var srcErr *SourceUnavailableError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected SourceUnavailableError, got %T: %v", err, err)
	}
}

func TestReadMalformedData(t *testing.T) {
	path := writeSnapshot(t, `{"not": "a list"`)

	_, err := Read(path)
	if err == nil {
		t.Fatal("expected an error for malformed data")
	}

	var srcErr *SourceUnavailableError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected SourceUnavailableError, got %T: %v", err, err)
	}
}
