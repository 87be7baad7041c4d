// Package score assigns deterministic scores to icons and orders them.
package score

import (
	"cmp"
	"slices"
	"strings"

	"github.com/snapbooks-app/geticon/internal/icon"
)

const (
	purposeMonochrome  = "monochrome"
	purposeMaskable    = "maskable"
	sizeFitCeiling     = 40
	sizeFitOversize    = 15
	sizeFitUndersize   = 24
	sizeFitUnknown     = 20
	sizeFitNoneScaled  = 30
	sizeFitNoneUnknown = 12
)

var formatWeights = map[icon.Format]int{
	icon.FormatSVG:     50,
	icon.FormatPNG:     40,
	icon.FormatWebP:    35,
	icon.FormatICO:     25,
	icon.FormatGIF:     15,
	icon.FormatJPEG:    15,
	icon.FormatUnknown: 5,
}

var kindWeights = map[icon.Kind]int{
	icon.KindFaviconFile:   10,
	icon.KindLinkTag:       10,
	icon.KindAppleTouch:    8,
	icon.KindManifestEntry: 8,
	icon.KindMSTile:        5,
	icon.KindOpenGraph:     -40,
}

var sizeTiers = []struct {
	min    int
	points int
}{
	{512, 30},
	{256, 25},
	{192, 20},
	{128, 15},
	{64, 10},
	{32, 5},
}

// Scorer ranks icons. It holds no state; the zero value is ready to use.
type Scorer struct{}

// New returns a Scorer.
func New() Scorer {
	return Scorer{}
}

// Score is a pure function of format, size fit against the requested size, kind and purpose.
// A requested size of zero means "no preference".
func (Scorer) Score(format icon.Format, size icon.Size, kind icon.Kind, purpose string, requested int) int {
	return FormatWeight(format) + SizeFit(size, requested) + kindWeights[kind] + purposeAdjustment(purpose)
}

// FormatWeight returns the quality weight of a format.
func FormatWeight(format icon.Format) int {
	if w, ok := formatWeights[format]; ok {
		return w
	}
	return formatWeights[icon.FormatUnknown]
}

// SizeFit scores how well size serves the requested size. With a request, sizes at or
// above it score 25..40 (closest highest) and sizes below it score under 25.
func SizeFit(size icon.Size, requested int) int {
	if requested > 0 {
		switch {
		case size.Scalable:
			return sizeFitCeiling
		case !size.Known():
			return sizeFitUnknown
		}
		s := size.Max()
		if s >= requested {
			penalty := min(sizeFitOversize, sizeFitOversize*(s-requested)/requested)
			return sizeFitCeiling - penalty
		}
		return sizeFitUndersize * s / requested
	}

	switch {
	case size.Scalable:
		return sizeFitNoneScaled
	case !size.Known():
		return sizeFitNoneUnknown
	}
	s := size.Max()
	for _, tier := range sizeTiers {
		if s >= tier.min {
			return tier.points
		}
	}
	return 2
}

func purposeAdjustment(purpose string) int {
	tokens := strings.Fields(strings.ToLower(purpose))
	if slices.Contains(tokens, purposeMonochrome) {
		return -30
	}
	if len(tokens) > 0 && !slices.ContainsFunc(tokens, func(t string) bool { return t != purposeMaskable }) {
		return -5
	}
	return 0
}

// RankCandidates orders candidates by their declared hints, best first. Ties fall back
// to kind priority and then URL so the order is total.
func (s Scorer) RankCandidates(candidates []icon.Candidate, requested int) []icon.Candidate {
	type ranked struct {
		candidate icon.Candidate
		score     int
	}
	items := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, ranked{candidate: c, score: s.Score(c.Format, c.SizeFor(requested), c.Kind, c.Purpose, requested)})
	}
	slices.SortFunc(items, func(a, b ranked) int {
		return cmp.Or(
			cmp.Compare(b.score, a.score),
			cmp.Compare(b.candidate.Kind.Priority(), a.candidate.Kind.Priority()),
			cmp.Compare(a.candidate.URL, b.candidate.URL),
		)
	})
	out := make([]icon.Candidate, 0, len(items))
	for _, item := range items {
		out = append(out, item.candidate)
	}
	return out
}

// ScoreValidated scores an icon using its confirmed format and the declared variant or
// inferred size that best fits requested.
func (s Scorer) ScoreValidated(v icon.ValidatedIcon, requested int) icon.ScoredIcon {
	return icon.ScoredIcon{
		ValidatedIcon: v,
		Score:         s.Score(v.Format, v.EffectiveSizeFor(requested), v.Kind, v.Purpose, requested),
		RequestedSize: requested,
	}
}

// Compare is the total order over scored icons: score, kind priority, byte length
// (all descending) and finally URL ascending. Negative means a ranks first.
func Compare(a, b icon.ScoredIcon) int {
	return cmp.Or(
		cmp.Compare(b.Score, a.Score),
		cmp.Compare(b.Kind.Priority(), a.Kind.Priority()),
		cmp.Compare(b.Bytes, a.Bytes),
		cmp.Compare(a.URL, b.URL),
	)
}
