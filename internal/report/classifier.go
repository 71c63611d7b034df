// Package report turns RMF Workload Activity report text into utilization records.
package report

import (
	"regexp"
	"strconv"
	"strings"
)

// EventKind identifies what a report line means to the parser
type EventKind int

const (
	EventNone EventKind = iota
	EventTimestamp
	EventHeader
	EventZeroData
	EventTotal
)

func (k EventKind) String() string {
	switch k {
	case EventTimestamp:
		return "timestamp"
	case EventHeader:
		return "header"
	case EventZeroData:
		return "zero-data"
	case EventTotal:
		return "total"
	default:
		return "none"
	}
}

// Event is the classification of one line. Only the fields of its Kind are set.
type Event struct {
	Kind EventKind

	// EventTimestamp: "MM/DD/YYYY" and "HH.MM.SS"
	Date string
	Time string

	// EventHeader
	Workload     string
	ServiceClass string
	Period       int

	// EventTotal: the raw numeric token following TOTAL
	Total string
}

// Report markers. Each marker is a substring every match of its pattern must
// contain, so a failed Contains check can never hide a match.
const (
	markerStart    = "START"
	markerWorkload = "WORKLOAD="
	markerZero     = "ALL DATA ZERO"
	markerAvg      = "AVG"
	markerTotal    = "TOTAL"
)

var (
	reTimestamp = regexp.MustCompile(`START\s+(\d{2}/\d{2}/\d{4})-(\d{2}\.\d{2}\.\d{2})\s+INTERVAL`)
	reHeader    = regexp.MustCompile(`WORKLOAD=(\w+)\s+SERVICE CLASS=(\w+)\s+.*?PERIOD=(\d+)`)
	reTotal     = regexp.MustCompile(`^\s*AVG\s+.*?TOTAL\s+([\d.]+)`)
)

// matcher pairs the cheap containment check with the structured match
type matcher struct {
	kind    EventKind
	markers []string
	match   func(line string) (Event, bool)
}

// matchers is ordered by priority: the first match wins.
var matchers = []matcher{
	{kind: EventTimestamp, markers: []string{markerStart}, match: matchTimestamp},
	{kind: EventHeader, markers: []string{markerWorkload}, match: matchHeader},
	{kind: EventZeroData, markers: []string{markerZero}, match: matchZeroData},
	{kind: EventTotal, markers: []string{markerAvg, markerTotal}, match: matchTotal},
}

// Classify maps one report line to the highest-priority event it matches.
// It holds no state and is safe for concurrent use.
func Classify(line string) Event {
	for _, m := range matchers {
		if !containsAll(line, m.markers) {
			continue
		}
		if ev, ok := m.match(line); ok {
			return ev
		}
	}
	return Event{Kind: EventNone}
}

func containsAll(line string, markers []string) bool {
	for _, marker := range markers {
		if !strings.Contains(line, marker) {
			return false
		}
	}
	return true
}

func matchTimestamp(line string) (Event, bool) {
	m := reTimestamp.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	return Event{Kind: EventTimestamp, Date: m[1], Time: m[2]}, true
}

func matchHeader(line string) (Event, bool) {
	m := reHeader.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	period, err := strconv.Atoi(m[3])
	if err != nil {
		// Out of int range; not a header we can represent.
		return Event{}, false
	}
	return Event{Kind: EventHeader, Workload: m[1], ServiceClass: m[2], Period: period}, true
}

func matchZeroData(line string) (Event, bool) {
	return Event{Kind: EventZeroData}, strings.Contains(line, markerZero)
}

func matchTotal(line string) (Event, bool) {
	m := reTotal.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	return Event{Kind: EventTotal, Total: m[1]}, true
}
