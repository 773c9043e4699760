package snapshot

import "waypointrelay/internal/model"

// Changed reports whether next counts as moved relative to the previous
// item set. An item never seen before is always changed. If either side has
// no location, the item is unchanged. Otherwise comparison is exact
// inequality on timestamp, latitude, and longitude; accuracy and altitude
// changes alone do not count.
func Changed(prev []model.Item, next model.Item) bool {
	old := findBySerial(prev, next.Serial)
	if old == nil {
		return true
	}
	if old.Location == nil || next.Location == nil {
		return false
	}
	return old.Location.Timestamp != next.Location.Timestamp ||
		old.Location.Latitude != next.Location.Latitude ||
		old.Location.Longitude != next.Location.Longitude
}

func findBySerial(items []model.Item, serial string) *model.Item {
	for i := range items {
		if items[i].Serial == serial {
			return &items[i]
		}
	}
	return nil
}
