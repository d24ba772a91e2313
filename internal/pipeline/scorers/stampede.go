package scorers

import (
	"math"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/stat"

	"guardian/internal/config"
	"guardian/internal/event"
	"guardian/internal/pipeline"
)

const stampedeHistorySize = 5

type stampedeSample struct {
	personCount int
	motion      float64
	score       float64
}

// StampedeScorer scores crowd panic from density, motion, spatial
// distribution, movement chaos and its own recent history
type StampedeScorer struct {
	history []stampedeSample
}

// NewStampedeScorer creates a stampede scorer
func NewStampedeScorer() *StampedeScorer {
	return &StampedeScorer{}
}

func (s *StampedeScorer) Name() string { return config.ScorerStampede }

// Score evaluates the stampede signal of one tick
func (s *StampedeScorer) Score(tc *pipeline.TickContext) ([]pipeline.ModalityScore, error) {
	cfg := tc.Config.Stampede
	centroids := make([]pipeline.Point, 0, len(tc.Persons))
	for _, p := range tc.Persons {
		centroids = append(centroids, p.BBox.Centroid())
	}
	personCount := len(centroids)
	motion := tc.Input.MotionLevel

	metrics := map[string]float64{
		"person_count": float64(personCount),
		"motion_level": motion,
	}

	score := densityScore(personCount, cfg.PersonCountTiers)
	score += motionScore(motion)

	if personCount > 1 {
		avg := averagePairwiseDistance(centroids)
		metrics["avg_distance"] = avg
		switch {
		case avg < 80:
			score += 0.3
		case avg < 120:
			score += 0.2
		case avg < 180:
			score += 0.1
		}

		w, h := tc.FrameSize()
		if ratio, ok := gridDensityRatio(centroids, w, h, cfg.GridCellSize); ok {
			metrics["grid_ratio"] = ratio
			switch {
			case ratio > 0.3:
				score += 0.2
			case ratio > 0.2:
				score += 0.1
			}
		}

		largest := largestCluster(centroids, cfg.ClusterLinkDistance)
		metrics["max_cluster"] = float64(largest)
		switch {
		case largest >= 8:
			score += 0.2
		case largest >= 5:
			score += 0.1
		}
	}

	chaotic, fast := movementRatios(tc.Tracks, cfg.ChaosVelocity)
	metrics["chaotic_ratio"] = chaotic
	metrics["velocity_ratio"] = fast
	switch {
	case chaotic > 0.7 && fast > 0.6:
		score += 0.3
	case chaotic > 0.5 && fast > 0.4:
		score += 0.2
	case chaotic > 0.3 || fast > 0.3:
		score += 0.1
	}

	score = pipeline.Clamp01(score)
	s.push(stampedeSample{personCount: personCount, motion: motion, score: score})

	if n := len(s.history); n >= 3 {
		recent := make([]float64, 0, 3)
		for _, h := range s.history[n-3:] {
			recent = append(recent, h.score)
		}
		if stat.Mean(recent, nil) > 0.5 {
			score = pipeline.Clamp01(score + 0.1)
		}
	}

	indicators := 0
	if n := len(s.history); n >= 2 {
		prev, cur := s.history[n-2], s.history[n-1]
		if cur.personCount-prev.personCount > 5 {
			indicators++
		}
		if cur.motion-prev.motion > 1.0 {
			indicators++
		}
	}
	metrics["panic_indicators"] = float64(indicators)
	switch {
	case indicators >= 2:
		score = pipeline.Clamp01(score + 0.2)
	case indicators == 1:
		score = pipeline.Clamp01(score + 0.1)
	}

	out := pipeline.ModalityScore{
		Signal:   pipeline.SignalStampede,
		Modality: event.ModalityCrowd,
		Label:    stampedeLabel(score),
		Metrics:  metrics,
	}
	switch {
	case score >= 0.4:
		out.Detected, out.Confidence = true, score
	case score >= 0.2:
		out.Detected, out.Confidence = true, score*0.7
	}
	return []pipeline.ModalityScore{out}, nil
}

func (s *StampedeScorer) push(sample stampedeSample) {
	s.history = append(s.history, sample)
	if len(s.history) > stampedeHistorySize {
		s.history = s.history[len(s.history)-stampedeHistorySize:]
	}
}

// densityScore buckets the person count into the configured descending tiers
func densityScore(count int, tiers []int) float64 {
	bonus := []float64{0.4, 0.3, 0.2, 0.1}
	for i, tier := range tiers {
		if i >= len(bonus) {
			break
		}
		if count >= tier {
			return bonus[i]
		}
	}
	return 0
}

func motionScore(motion float64) float64 {
	switch {
	case motion > 3.0:
		return 0.3
	case motion > 2.0:
		return 0.2
	case motion > 1.5:
		return 0.1
	}
	return 0
}

func stampedeLabel(score float64) string {
	switch {
	case score > 0.8:
		return "critical_stampede"
	case score > 0.6:
		return "high_stampede"
	case score > 0.4:
		return "medium_stampede"
	case score > 0.2:
		return "low_stampede"
	}
	return "none"
}

func averagePairwiseDistance(points []pipeline.Point) float64 {
	total, pairs := 0.0, 0
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			total += points[i].Dist(points[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

// gridDensityRatio partitions the frame into cells and weighs cells with
// three or more occupants fully and cells with two by half. Returns false
// when the frame holds no complete cell.
func gridDensityRatio(points []pipeline.Point, width, height, cell int) (float64, bool) {
	if cell <= 0 {
		return 0, false
	}
	rows, cols := height/cell, width/cell
	if rows == 0 || cols == 0 {
		return 0, false
	}

	grid := make([]int, rows*cols)
	for _, p := range points {
		gx, gy := int(math.Floor(p.X/float64(cell))), int(math.Floor(p.Y/float64(cell)))
		if gx >= 0 && gx < cols && gy >= 0 && gy < rows {
			grid[gy*cols+gx]++
		}
	}

	dense := 0.0
	for _, n := range grid {
		switch {
		case n >= 3:
			dense++
		case n >= 2:
			dense += 0.5
		}
	}
	return dense / float64(rows*cols), true
}

// largestCluster returns the size of the largest single-link cluster of at
// least two points whose links are no longer than maxLink
func largestCluster(points []pipeline.Point, maxLink float64) int {
	if len(points) < 2 {
		return 0
	}
	g := simple.NewUndirectedGraph()
	for i := range points {
		g.AddNode(simple.Node(i))
	}
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			if points[i].Dist(points[j]) <= maxLink {
				g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
			}
		}
	}

	largest := 0
	for _, component := range topo.ConnectedComponents(g) {
		if n := len(component); n >= 2 && n > largest {
			largest = n
		}
	}
	return largest
}

// movementRatios returns the share of chaotic and of high-velocity tracks
// over all tracks
func movementRatios(tracks []*pipeline.Track, fastStep float64) (chaotic, fast float64) {
	if len(tracks) == 0 {
		return 0, 0
	}
	var nChaotic, nFast int
	for _, tr := range tracks {
		if len(tr.Positions) < 3 {
			continue
		}
		var bearings, steps []float64
		for i := 1; i < len(tr.Positions); i++ {
			dx := tr.Positions[i].X - tr.Positions[i-1].X
			dy := tr.Positions[i].Y - tr.Positions[i-1].Y
			if dx == 0 && dy == 0 {
				continue
			}
			bearings = append(bearings, math.Atan2(dy, dx))
			steps = append(steps, math.Hypot(dx, dy))
		}

		changes := 0
		for i := 1; i < len(bearings); i++ {
			if bearingDelta(bearings[i-1], bearings[i]) > math.Pi/4 {
				changes++
			}
		}
		if changes > 2 {
			nChaotic++
		}
		if len(steps) > 0 && stat.Mean(steps, nil) > fastStep {
			nFast++
		}
	}
	total := float64(len(tracks))
	return float64(nChaotic) / total, float64(nFast) / total
}

// bearingDelta returns the absolute angle between two bearings in [0, π]
func bearingDelta(a, b float64) float64 {
	d := math.Abs(b - a)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}
