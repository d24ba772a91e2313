package scorers

import (
	"fmt"
	"image"
	"math"

	"guardian/internal/config"
	"guardian/internal/event"
	"guardian/internal/pipeline"
)

const (
	retainedFrames  = 10
	flickerFrames   = 3
	presenceHistory = 5
	presenceRatio   = 0.6
	presenceBoost   = 0.2
	flickerBoost    = 0.2
)

type grayFrame struct {
	w, h int
	pix  []uint8
}

// candidate is one fire or smoke region being scored. rect is in working
// frame coordinates when a frame was decoded this tick.
type candidate struct {
	kind       pipeline.RegionKind
	fill       float64
	aspect     float64
	color      *pipeline.ColorStats
	edge       *float64
	flicker    *float64
	rect       image.Rectangle
	hasRect    bool
	confidence float64
}

// FireSmokeScorer validates fire and smoke regions, either supplied by an
// external segmenter or proposed from the raw frame
type FireSmokeScorer struct {
	frames []grayFrame // Newest last
	fire   []bool
	smoke  []bool
}

// NewFireSmokeScorer creates a fire/smoke scorer
func NewFireSmokeScorer() *FireSmokeScorer {
	return &FireSmokeScorer{}
}

func (s *FireSmokeScorer) Name() string { return config.ScorerFireSmoke }

// Score evaluates the color.fire and color.smoke signals of one tick
func (s *FireSmokeScorer) Score(tc *pipeline.TickContext) ([]pipeline.ModalityScore, error) {
	in := tc.Input
	cfg := tc.Config.FireSmoke
	if in.FireSmokeRegions == nil && in.Frame == nil {
		return nil, fmt.Errorf("fire/smoke regions: %w", pipeline.ErrMissingSignal)
	}

	var wf *workFrame
	if in.Frame != nil {
		img, err := decodeFrame(in.Frame)
		if err != nil {
			if in.FireSmokeRegions == nil {
				return nil, err
			}
		} else {
			wf = newWorkFrame(img, cfg.WorkingWidth)
		}
	}

	var cands []candidate
	if in.FireSmokeRegions != nil {
		cands = regionCandidates(in.FireSmokeRegions, wf)
	} else if wf != nil {
		for _, seg := range wf.segment(cfg.MinRegionArea) {
			color, edge := seg.color, seg.edge
			c := candidate{
				kind:    seg.kind,
				fill:    seg.fill,
				aspect:  seg.aspect,
				color:   &color,
				rect:    seg.rect,
				hasRect: true,
			}
			if seg.kind == pipeline.RegionSmoke {
				c.edge = &edge
			}
			cands = append(cands, c)
		}
	}

	var fireAccepted, smokeAccepted []*candidate
	for i := range cands {
		c := &cands[i]
		switch c.kind {
		case pipeline.RegionFire:
			if c.flicker == nil && c.hasRect && wf != nil {
				c.flicker = s.flicker(wf, c.rect)
			}
			c.confidence = fireConfidence(c, cfg.FlickerThreshold)
			if c.confidence > cfg.FireThreshold {
				fireAccepted = append(fireAccepted, c)
			}
		case pipeline.RegionSmoke:
			c.confidence = smokeScore(c)
			if c.confidence > cfg.SmokeThreshold {
				smokeAccepted = append(smokeAccepted, c)
			}
		}
	}

	s.fire = pushPresence(s.fire, len(fireAccepted) > 0)
	s.smoke = pushPresence(s.smoke, len(smokeAccepted) > 0)
	boost(fireAccepted, s.fire)
	boost(smokeAccepted, s.smoke)

	if wf != nil {
		s.retain(wf)
	}

	return []pipeline.ModalityScore{
		summarize(pipeline.SignalFire, fireAccepted, countKind(cands, pipeline.RegionFire)),
		summarize(pipeline.SignalSmoke, smokeAccepted, countKind(cands, pipeline.RegionSmoke)),
	}, nil
}

// regionCandidates converts external regions. When a frame was decoded the
// region boxes are mapped to working coordinates for flicker measurement.
func regionCandidates(regions []pipeline.FireSmokeRegion, wf *workFrame) []candidate {
	out := make([]candidate, 0, len(regions))
	for _, r := range regions {
		if r.Kind != pipeline.RegionFire && r.Kind != pipeline.RegionSmoke {
			continue
		}
		aspect := r.AspectRatio
		if aspect == 0 {
			aspect = r.BBox.AspectRatio()
		}
		c := candidate{
			kind:    r.Kind,
			fill:    r.FillRatio,
			aspect:  aspect,
			color:   r.Color,
			edge:    r.EdgeDensity,
			flicker: r.Flicker,
		}
		if wf != nil && r.BBox.Valid() {
			rect := image.Rect(
				int(math.Floor(r.BBox.X1*wf.scale)), int(math.Floor(r.BBox.Y1*wf.scale)),
				int(math.Ceil(r.BBox.X2*wf.scale)), int(math.Ceil(r.BBox.Y2*wf.scale)),
			).Intersect(image.Rect(0, 0, wf.w, wf.h))
			if !rect.Empty() {
				c.rect, c.hasRect = rect, true
			}
		}
		out = append(out, c)
	}
	return out
}

// fireColorScore scores a fire candidate from its colour and shape
func fireColorScore(c *candidate) float64 {
	score := 0.0
	if c.color != nil {
		h := c.color.HueMean
		if (h >= 0 && h <= 30) || (h >= 170 && h <= 180) {
			score += 0.3
		}
		if c.color.SatMean > 100 {
			score += 0.2
		}
		if c.color.ValMean > 150 {
			score += 0.2
		}
	}
	if c.aspect > 0.5 && c.aspect < 2.0 {
		score += 0.1
	}
	if c.fill > 0.2 {
		score += 0.2
	}
	score += 0.1
	return pipeline.Clamp01(score)
}

// fireConfidence blends the colour score with flicker when it is known
func fireConfidence(c *candidate, flickerThreshold float64) float64 {
	color := fireColorScore(c)
	if c.flicker == nil {
		return color
	}
	f := pipeline.Clamp01(*c.flicker)
	conf := color*0.7 + f*0.3
	if f > flickerThreshold {
		conf += flickerBoost
	}
	return pipeline.Clamp01(conf)
}

// smokeScore scores a smoke candidate
func smokeScore(c *candidate) float64 {
	score := 0.0
	if c.color != nil {
		switch s := c.color.SatMean; {
		case s < 30:
			score += 0.3
		case s < 50:
			score += 0.1
		}
		switch v := c.color.ValMean; {
		case v > 80 && v < 180:
			score += 0.2
		case v > 60 && v < 200:
			score += 0.1
		}
		if c.color.SatStd < 15 && c.color.ValStd < 25 {
			score += 0.1
		}
	}
	switch {
	case c.aspect > 0.8 && c.aspect < 2.5:
		score += 0.2
	case c.aspect > 0.8:
		score += 0.1
	}
	switch {
	case c.fill > 0.5:
		score += 0.2
	case c.fill > 0.3:
		score += 0.1
	}
	if c.edge != nil {
		switch e := *c.edge; {
		case e < 0.05:
			score += 0.2
		case e < 0.1:
			score += 0.1
		}
	}
	return pipeline.Clamp01(score)
}

// flicker measures intensity variation of a region over the last retained
// frames. Returns nil until enough frames of the same size exist.
func (s *FireSmokeScorer) flicker(wf *workFrame, r image.Rectangle) *float64 {
	var prev []grayFrame
	for i := len(s.frames) - 1; i >= 0 && len(prev) < flickerFrames; i-- {
		if s.frames[i].w == wf.w && s.frames[i].h == wf.h {
			prev = append(prev, s.frames[i])
		}
	}
	if len(prev) < flickerFrames {
		return nil
	}
	sum := 0.0
	for _, p := range prev {
		sum += meanAbsDiff(wf.gray, p.pix, wf.w, r) / 255.0
	}
	f := math.Min(sum/flickerFrames, 1.0)
	return &f
}

func (s *FireSmokeScorer) retain(wf *workFrame) {
	s.frames = append(s.frames, grayFrame{w: wf.w, h: wf.h, pix: wf.gray})
	if len(s.frames) > retainedFrames {
		s.frames[0] = grayFrame{}
		s.frames = s.frames[1:]
	}
}

func pushPresence(h []bool, present bool) []bool {
	h = append(h, present)
	if len(h) > presenceHistory {
		h = h[len(h)-presenceHistory:]
	}
	return h
}

// boost raises accepted candidates when the kind was present in most of
// the recent ticks
func boost(accepted []*candidate, history []bool) {
	if len(history) < presenceHistory {
		return
	}
	present := 0
	for _, p := range history {
		if p {
			present++
		}
	}
	if float64(present)/float64(len(history)) <= presenceRatio {
		return
	}
	for _, c := range accepted {
		c.confidence = pipeline.Clamp01(c.confidence + presenceBoost)
	}
}

func countKind(cands []candidate, kind pipeline.RegionKind) int {
	n := 0
	for _, c := range cands {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func summarize(sig pipeline.Signal, accepted []*candidate, total int) pipeline.ModalityScore {
	out := pipeline.ModalityScore{
		Signal:   sig,
		Modality: event.ModalityFireSmoke,
		Label:    "none",
		Metrics:  map[string]float64{"candidates": float64(total), "accepted": float64(len(accepted))},
	}
	var best *candidate
	for _, c := range accepted {
		if best == nil || c.confidence > best.confidence {
			best = c
		}
	}
	if best == nil {
		return out
	}
	out.Detected = true
	out.Confidence = best.confidence
	out.Label = string(best.kind)
	out.Metrics["aspect_ratio"] = best.aspect
	out.Metrics["fill_ratio"] = best.fill
	if best.flicker != nil {
		out.Metrics["flicker"] = *best.flicker
	}
	return out
}
