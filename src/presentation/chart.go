package presentation

import (
	"fmt"
	"strings"
	"time"

	"market-streamer/src/models"
)

// fill alpha applied to the line color for the area background
const backgroundAlpha = 0.2

// -----------------------------------------------------------------------------

// MPoint is one chart point: x is the sample time, y the change percent
type MPoint struct {
	X time.Time `json:"x"`
	Y float64   `json:"y"`
}

// -----------------------------------------------------------------------------

// MDataset is one line of the chart widget
type MDataset struct {
	Label           string   `json:"label"`
	Data            []MPoint `json:"data"`
	BorderColor     string   `json:"borderColor"`
	BackgroundColor string   `json:"backgroundColor"`
	Tension         float64  `json:"tension"`
	PointRadius     int      `json:"pointRadius"`
	BorderWidth     int      `json:"borderWidth"`
}

// -----------------------------------------------------------------------------

// MChart is the full widget input
type MChart struct {
	Datasets []MDataset `json:"datasets"`
}

// -----------------------------------------------------------------------------

// MPriceCard is the latest quote of one series
type MPriceCard struct {
	Security  string   `json:"security"`
	Timestamp string   `json:"timestamp"`
	LastPrice float64  `json:"last_price"`
	PrevClose float64  `json:"prev_close"`
	ChangePct float64  `json:"change_pct"`
	Positive  bool     `json:"positive"`
	Bid       *float64 `json:"bid"`
	Ask       *float64 `json:"ask"`
	Volume    *float64 `json:"volume"`
}

// -----------------------------------------------------------------------------

// BuildChart returns one dataset per key, in key order. Keys without data
// get an empty line so that colors stay stable while data arrives. Colors
// are assigned round-robin over palette by key position.
func BuildChart(keys []string, snapshot map[string]*models.MSeriesRecord, palette []string) MChart {
	chart := MChart{Datasets: make([]MDataset, 0, len(keys))}

	for i, key := range keys {
		color := ""
		if len(palette) > 0 {
			color = palette[i%len(palette)]
		}

		points := []MPoint{}
		if rec, ok := snapshot[key]; ok && rec != nil {
			points = make([]MPoint, len(rec.Samples))
			for j, s := range rec.Samples {
				points[j] = MPoint{X: s.Timestamp, Y: s.Value}
			}
		}

		chart.Datasets = append(chart.Datasets, MDataset{
			Label:           key,
			Data:            points,
			BorderColor:     color,
			BackgroundColor: Translucent(color, backgroundAlpha),
			Tension:         0.1,
			PointRadius:     0,
			BorderWidth:     2,
		})
	}
	return chart
}

// -----------------------------------------------------------------------------

// BuildPriceCards returns the latest snapshot of every key that has one
func BuildPriceCards(keys []string, snapshot map[string]*models.MSeriesRecord) []MPriceCard {
	cards := make([]MPriceCard, 0, len(keys))
	for _, key := range keys {
		rec, ok := snapshot[key]
		if !ok || rec == nil || rec.LatestSnapshot == nil {
			continue
		}
		u := rec.LatestSnapshot
		cards = append(cards, MPriceCard{
			Security:  key,
			Timestamp: u.Timestamp,
			LastPrice: u.LastPrice,
			PrevClose: u.PrevClose,
			ChangePct: u.ChangePct,
			Positive:  u.ChangePct >= 0,
			Bid:       u.Bid,
			Ask:       u.Ask,
			Volume:    u.Volume,
		})
	}
	return cards
}

// -----------------------------------------------------------------------------

// Translucent turns "rgb(r, g, b)" into "rgba(r, g, b, alpha)". Other color
// forms are returned unchanged.
func Translucent(color string, alpha float64) string {
	c := strings.TrimSpace(color)
	if !strings.HasPrefix(c, "rgb(") || !strings.HasSuffix(c, ")") {
		return color
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(c, "rgb("), ")")
	return fmt.Sprintf("rgba(%s, %g)", inner, alpha)
}
