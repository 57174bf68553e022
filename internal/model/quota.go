package model

import "github.com/rotisserie/eris"

// ErrQuotaExhausted is returned when an acquisition would exceed the day's ceiling.
var ErrQuotaExhausted = eris.New("daily acquisition quota exhausted")

// QuotaWindow is the acquisition budget for a single calendar day.
type QuotaWindow struct {
	Day     string `json:"day" yaml:"day"` // YYYY-MM-DD
	Count   int    `json:"count" yaml:"count"`
	Ceiling int    `json:"ceiling" yaml:"ceiling"`
	AllTime int    `json:"all_time" yaml:"all_time"`
}

// Remaining returns the acquisitions left today, floored at zero.
func (w QuotaWindow) Remaining() int {
	if w.Count >= w.Ceiling {
		return 0
	}
	return w.Ceiling - w.Count
}

// Exhausted reports whether the day's ceiling has been reached.
func (w QuotaWindow) Exhausted() bool {
	return w.Count >= w.Ceiling
}
