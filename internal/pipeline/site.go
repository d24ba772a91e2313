package pipeline

import (
	"sort"

	"guardian/internal/event"
)

// SiteEvent is the state of one event combined over all cameras
type SiteEvent struct {
	Confidence float64      `json:"confidence"`
	Status     event.Status `json:"status"`
	Cameras    []string     `json:"cameras"` // Cameras currently detecting the event
}

// SiteHistory is the combined detection history of a site
type SiteHistory map[event.Type]SiteEvent

// CombineHistories merges per-camera histories: the confidence is the
// maximum over cameras and the event is detected when any camera detects it
func CombineHistories(histories map[string]DetectionHistory) SiteHistory {
	ids := make([]string, 0, len(histories))
	for id := range histories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	site := make(SiteHistory, len(event.All()))
	for _, t := range event.All() {
		combined := SiteEvent{Status: event.StatusNotDetected, Cameras: []string{}}
		for _, id := range ids {
			state, ok := histories[id][t]
			if !ok {
				continue
			}
			combined.Confidence = max(combined.Confidence, Clamp01(state.Confidence))
			if state.Detected() {
				combined.Status = event.StatusDetected
				combined.Cameras = append(combined.Cameras, id)
			}
		}
		site[t] = combined
	}
	return site
}
