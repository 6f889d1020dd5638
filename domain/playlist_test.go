package domain

import (
	"testing"
	"time"
)

func item(op, name, isrc string, createdAt time.Time) PlaylistItem {
	return PlaylistItem{
		Operation: op,
		Name:      name,
		ISRC:      isrc,
		CreatedAt: createdAt,
	}
}

func TestTracklistDelta(t *testing.T) {
	base := time.Now()
	items := []PlaylistItem{
		item(ItemOperationAdd, "one", "ISRC1", base),
		item(ItemOperationAdd, "two", "ISRC2", base.Add(time.Minute)),
		item(ItemOperationDelete, "one", "ISRC1", base.Add(2*time.Minute)),
	}

	delta := TracklistDelta(items, base.Add(time.Hour))
	if len(delta) != 1 || delta[0].Name != "two" {
		t.Errorf("Expected only two to survive, got %+v", delta)
	}
}

func TestTracklistDeltaRespectsDatum(t *testing.T) {
	base := time.Now()
	items := []PlaylistItem{
		item(ItemOperationAdd, "one", "ISRC1", base),
		item(ItemOperationDelete, "one", "ISRC1", base.Add(time.Hour)),
	}

	// Before the delete lands the track is still present
	delta := TracklistDelta(items, base.Add(time.Minute))
	if len(delta) != 1 {
		t.Errorf("Expected the add to survive at the earlier datum, got %+v", delta)
	}
}

func TestTracklistDeltaDeleteMatchesMetadata(t *testing.T) {
	base := time.Now()

	// Same ISRC but every other metadata field differs: the delete does not
	// touch the earlier addition
	other := PlaylistItem{
		Operation:   ItemOperationDelete,
		Name:        "different",
		ArtistName:  "someone else",
		ReleaseName: "another release",
		ISRC:        "ISRC1",
		UPC:         "other-upc",
		ISNI:        "other-isni",
		CreatedAt:   base.Add(time.Minute),
	}
	items := []PlaylistItem{
		item(ItemOperationAdd, "one", "ISRC1", base),
		other,
	}
	delta := TracklistDelta(items, base.Add(time.Hour))
	if len(delta) != 1 {
		t.Errorf("Delete with fully different metadata must not remove the add, got %+v", delta)
	}

	// A delete sharing the name removes it even though other fields differ
	partial := other
	partial.Name = "one"
	delta = TracklistDelta([]PlaylistItem{item(ItemOperationAdd, "one", "ISRC1", base), partial}, base.Add(time.Hour))
	if len(delta) != 0 {
		t.Errorf("Delete sharing any metadata field must remove the add, got %+v", delta)
	}
}
