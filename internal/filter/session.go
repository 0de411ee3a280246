package filter

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// Window is an inclusive [From, To] span of UTC minutes-of-day.
type Window struct {
	Name     string
	From, To int
}

func hours(name string, from, to int) Window {
	return Window{Name: name, From: from * 60, To: to * 60}
}

func (w Window) contains(u time.Time) bool {
	m := u.Hour()*60 + u.Minute()
	if m < w.From || m > w.To {
		return false
	}
	return m < w.To || (u.Second() == 0 && u.Nanosecond() == 0)
}

// Session accepts times inside any of its windows.
type Session struct {
	Windows []Window
}

// IntradaySession is the London open (08:00-10:00) plus the extended
// London/New York overlap (13:00-18:00), UTC.
func IntradaySession() Session {
	return Session{Windows: []Window{hours("London Open", 8, 10), hours("London-NY Overlap", 13, 18)}}
}

// Contains reports whether t (converted to UTC) falls in a window.
func (s Session) Contains(t time.Time) bool {
	_, ok := s.window(t)
	return ok
}

// Label names the window t falls in.
func (s Session) Label(t time.Time) string {
	if w, ok := s.window(t); ok {
		return w.Name
	}
	return "Outside Session"
}

func (s Session) window(t time.Time) (Window, bool) {
	u := t.UTC()
	for _, w := range s.Windows {
		if w.contains(u) {
			return w, true
		}
	}
	return Window{}, false
}

var newYork = mustLocation("America/New_York")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

var dailyBreak = map[string]bool{"GC=F": true, "CL=F": true, "^TNX": true, "DX-Y.NYB": true}

// MarketOpen applies New York trading hours: crypto never closes; FX and
// futures close Friday 17:00 until Sunday 17:00; futures and macro series
// also pause 17:00-18:00 on weekdays.
func MarketOpen(instrument string, t time.Time) bool {
	if strings.Contains(instrument, "BTC") || strings.Contains(instrument, "ETH") || strings.Contains(instrument, "-USD") {
		return true
	}
	ny := t.In(newYork)
	h := ny.Hour()
	switch ny.Weekday() {
	case time.Friday:
		if h >= 17 {
			return false
		}
	case time.Saturday:
		return false
	case time.Sunday:
		return h >= 17
	}
	if dailyBreak[instrument] && h == 17 {
		return false
	}
	return true
}
