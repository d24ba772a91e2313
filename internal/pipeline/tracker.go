package pipeline

import (
	"time"

	"guardian/internal/config"
)

// TrackPoint is one recorded centroid of a track
type TrackPoint struct {
	Point
	At time.Time
}

// Track is the position history of one person across ticks
type Track struct {
	ID         int
	Positions  []TrackPoint // Newest last
	LastUpdate time.Time
	Stale      bool
}

// Newest returns the most recent position
func (t *Track) Newest() TrackPoint {
	return t.Positions[len(t.Positions)-1]
}

// Last returns up to n most recent positions, oldest first
func (t *Track) Last(n int) []TrackPoint {
	if len(t.Positions) <= n {
		return t.Positions
	}
	return t.Positions[len(t.Positions)-n:]
}

// TrackUpdate summarises one tracker update
type TrackUpdate struct {
	Matched int
	Created int
	Skipped int // Degenerate boxes
	Stale   int
	Evicted int
}

// PersonTracker associates person boxes into tracks with greedy nearest
// neighbour matching. Each box is matched independently in input order, so
// two boxes may extend the same track within one tick; under dense crowds
// ids can swap.
type PersonTracker struct {
	tracks []*Track // Insertion order
	nextID int
}

// NewPersonTracker creates an empty tracker
func NewPersonTracker() *PersonTracker {
	return &PersonTracker{}
}

// Update associates the tick's person boxes with tracks
func (pt *PersonTracker) Update(boxes []DetectionBox, now time.Time, cfg config.TrackerConfig) TrackUpdate {
	var u TrackUpdate

	for _, box := range boxes {
		if !box.IsPerson() {
			continue
		}
		if !box.BBox.Valid() {
			u.Skipped++
			continue
		}

		centroid := box.BBox.Centroid()
		point := TrackPoint{Point: centroid, At: now}
		if best, ok := NearestTrack(pt.tracks, centroid, cfg.GatingDistance); ok {
			best.Positions = append(best.Positions, point)
			if cfg.MaxPositions > 0 && len(best.Positions) > cfg.MaxPositions {
				best.Positions = append([]TrackPoint(nil), best.Positions[len(best.Positions)-cfg.MaxPositions:]...)
			}
			best.LastUpdate = now
			best.Stale = false
			u.Matched++
			continue
		}

		pt.tracks = append(pt.tracks, &Track{
			ID:         pt.nextID,
			Positions:  []TrackPoint{point},
			LastUpdate: now,
		})
		pt.nextID++
		u.Created++
	}

	u.Stale = pt.markStale(now, cfg)
	if cfg.EvictStale && u.Stale > 0 {
		u.Evicted = pt.evictStale()
		u.Stale -= u.Evicted
	}
	return u
}

func (pt *PersonTracker) markStale(now time.Time, cfg config.TrackerConfig) int {
	if cfg.StaleAfterSeconds <= 0 {
		return 0
	}
	staleAfter := time.Duration(cfg.StaleAfterSeconds * float64(time.Second))
	stale := 0
	for _, tr := range pt.tracks {
		tr.Stale = now.Sub(tr.LastUpdate) > staleAfter
		if tr.Stale {
			stale++
		}
	}
	return stale
}

// evictStale drops every stale track. Ids are never reused.
func (pt *PersonTracker) evictStale() int {
	total := len(pt.tracks)
	kept := pt.tracks[:0]
	for _, tr := range pt.tracks {
		if !tr.Stale {
			kept = append(kept, tr)
		}
	}
	for i := len(kept); i < total; i++ {
		pt.tracks[i] = nil
	}
	pt.tracks = kept
	return total - len(kept)
}

// Tracks returns the current tracks in insertion order
func (pt *PersonTracker) Tracks() []*Track {
	return pt.tracks
}

// Len returns the number of tracks
func (pt *PersonTracker) Len() int {
	return len(pt.tracks)
}

// StaleCount returns the number of tracks flagged stale
func (pt *PersonTracker) StaleCount() int {
	n := 0
	for _, tr := range pt.tracks {
		if tr.Stale {
			n++
		}
	}
	return n
}

// NearestTrack returns the track whose newest centroid is closest to p and
// strictly within maxDist. Ties keep the earliest track.
func NearestTrack(tracks []*Track, p Point, maxDist float64) (*Track, bool) {
	var best *Track
	bestDist := maxDist
	for _, tr := range tracks {
		if len(tr.Positions) == 0 {
			continue
		}
		if d := tr.Newest().Dist(p); d < bestDist {
			best = tr
			bestDist = d
		}
	}
	return best, best != nil
}
