package align

import (
	"math"
	"sort"
	"time"

	"github.com/Alias1177/Macroscope/models"
)

// Align merges two series of possibly-different trading calendars onto
// their union date axis. Each side is forward-filled across the union (a
// value observed on the last trading day carries through the other
// market's holiday) and leading dates where either side has no
// observation yet are dropped. The two returned series share an
// identical date axis.
func Align(a, b models.Series) (models.Series, models.Series) {
	if a.Empty() || b.Empty() {
		return models.Series{Label: a.Label}, models.Series{Label: b.Label}
	}

	dates := unionDates(a, b)
	filledA := forwardFill(a, dates)
	filledB := forwardFill(b, dates)

	outA := make([]models.PricePoint, 0, len(dates))
	outB := make([]models.PricePoint, 0, len(dates))
	for i, d := range dates {
		if math.IsNaN(filledA[i]) || math.IsNaN(filledB[i]) {
			continue
		}
		outA = append(outA, models.PricePoint{Date: d, Value: filledA[i]})
		outB = append(outB, models.PricePoint{Date: d, Value: filledB[i]})
	}

	return models.Series{Label: a.Label, Points: outA},
		models.Series{Label: b.Label, Points: outB}
}

// Synthesize aligns two legs and combines them elementwise. It fails
// softly: an empty input or a post-alignment length under minPoints
// yields an empty series, degrading the indicator to Gray exactly like
// a failed fetch.
func Synthesize(op models.DeriveOp, left, right models.Series, minPoints int) models.Series {
	label := models.DerivedSpec{Op: op, Left: left.Label, Right: right.Label}.Label()

	if left.Empty() || right.Empty() {
		return models.Series{Label: label}
	}

	alignedL, alignedR := Align(left, right)
	if alignedL.Len() < minPoints {
		return models.Series{Label: label}
	}

	points := make([]models.PricePoint, 0, alignedL.Len())
	for i := range alignedL.Points {
		l := alignedL.Points[i].Value
		r := alignedR.Points[i].Value

		var v float64
		switch op {
		case models.OpRatio:
			if r == 0 {
				continue
			}
			v = l / r
		case models.OpProduct:
			v = l * r
		case models.OpSum:
			v = l + r
		case models.OpSpread:
			v = l - r
		default:
			return models.Series{Label: label}
		}
		points = append(points, models.PricePoint{Date: alignedL.Points[i].Date, Value: v})
	}

	if len(points) < minPoints {
		return models.Series{Label: label}
	}
	return models.Series{Label: label, Points: points}
}

func unionDates(a, b models.Series) []time.Time {
	seen := make(map[time.Time]struct{}, a.Len()+b.Len())
	for _, p := range a.Points {
		seen[p.Date] = struct{}{}
	}
	for _, p := range b.Points {
		seen[p.Date] = struct{}{}
	}

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// forwardFill projects a series onto a sorted date axis, carrying the
// last observed value forward. Dates before the first observation are
// NaN; there is nothing to fill from.
func forwardFill(s models.Series, dates []time.Time) []float64 {
	out := make([]float64, len(dates))
	last := math.NaN()
	idx := 0
	for i, d := range dates {
		for idx < s.Len() && !s.Points[idx].Date.After(d) {
			last = s.Points[idx].Value
			idx++
		}
		out[i] = last
	}
	return out
}
