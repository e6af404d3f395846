package models

import (
	"time"
)

// -----------------------------------------------------------------------------

// MRawUpdate is one data message pushed by the stream server.
// Bid, Ask and Volume are pointers so that a JSON null survives the round
// trip into the series snapshot unchanged.
type MRawUpdate struct {
	Timestamp string   `json:"timestamp"`
	Security  string   `json:"security"`
	LastPrice float64  `json:"last_price"`
	PrevClose float64  `json:"prev_close"`
	ChangePct float64  `json:"change_pct"`
	Bid       *float64 `json:"bid"`
	Ask       *float64 `json:"ask"`
	Volume    *float64 `json:"volume"`

	// Time is the parsed form of Timestamp, filled by the protocol decoder
	Time time.Time `json:"-"`
}

// -----------------------------------------------------------------------------

// Clone returns a deep copy of the update
func (u *MRawUpdate) Clone() *MRawUpdate {
	if u == nil {
		return nil
	}
	c := *u
	c.Bid = cloneFloat(u.Bid)
	c.Ask = cloneFloat(u.Ask)
	c.Volume = cloneFloat(u.Volume)
	return &c
}

// -----------------------------------------------------------------------------

// MSample is one observation of a series' change metric
type MSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// -----------------------------------------------------------------------------

// MSeriesRecord is a point-in-time view of one series buffer
type MSeriesRecord struct {
	Key            string      `json:"key"`
	LatestSnapshot *MRawUpdate `json:"latest_snapshot"`
	Samples        []MSample   `json:"samples"`
}

// -----------------------------------------------------------------------------

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}
