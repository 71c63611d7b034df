package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
	"github.com/JacksonYang0315/rmf-analyzer/internal/intern"
)

// DefaultMaxLineSize bounds a single report line. RMF reports are 133-column
// print images, so anything near this size is not a report.
const DefaultMaxLineSize = 1024 * 1024

// reportTimestampLayout matches the "MM/DD/YYYY-HH.MM.SS" START token
const reportTimestampLayout = "01/02/2006-15.04.05"

type parseState int

const (
	// stateSeeking: no open header; totals and zero-data lines are ignored
	stateSeeking parseState = iota
	// stateAwaitingTotal: header open, next total or zero-data line decides it
	stateAwaitingTotal
	// stateSkipping: current class reported ALL DATA ZERO; wait for next header
	stateSkipping
)

func (s parseState) String() string {
	switch s {
	case stateAwaitingTotal:
		return "awaiting_total"
	case stateSkipping:
		return "skipping"
	default:
		return "seeking"
	}
}

// Parser extracts records from report files. It keeps no per-file state and
// is safe for concurrent use by multiple workers.
type Parser struct {
	maxFileSize int64
	maxLineSize int
	interner    *intern.Interner
}

// NewParser creates a parser enforcing maxFileSize. interner may be nil.
func NewParser(maxFileSize int64, interner *intern.Interner) *Parser {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Parser{
		maxFileSize: maxFileSize,
		maxLineSize: DefaultMaxLineSize,
		interner:    interner,
	}
}

// ParseFile parses the report at path. Records carry the file's base name.
// Any file-level error discards records already extracted from the file.
func (p *Parser) ParseFile(path string) ([]domain.Record, error) {
	rc, err := Open(path, p.maxFileSize)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return p.Parse(rc, filepath.Base(path))
}

// Parse runs the state machine over every line of r.
func (p *Parser) Parse(r io.Reader, sourceFile string) ([]domain.Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), p.maxLineSize)

	pc := &parseContext{sourceFile: sourceFile, interner: p.interner}
	var records []domain.Record
	lines := 0

	for scanner.Scan() {
		lines++
		line := scanner.Text()
		if !utf8.ValidString(line) {
			line = strings.ToValidUTF8(line, "")
		}

		if rec, ok := pc.consume(Classify(line)); ok {
			records = append(records, rec)
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: after line %d: %v", ErrDecode, lines, err)
	}
	if lines == 0 {
		return nil, ErrEmptyFile
	}

	log.Debug().
		Str("file", sourceFile).
		Int("lines", lines).
		Int("records", len(records)).
		Str("final_state", pc.state.String()).
		Msg("Report parsed")

	return records, nil
}

// parseContext is the working memory of one file's parse
type parseContext struct {
	sourceFile string
	interner   *intern.Interner

	tsDisplay    string
	tsISO        string
	workload     string
	serviceClass string
	period       int
	state        parseState
}

// consume applies one event and returns the record it completes, if any
func (c *parseContext) consume(ev Event) (domain.Record, bool) {
	switch ev.Kind {
	case EventTimestamp:
		// Interval timestamps apply to every following class until superseded.
		c.tsDisplay, c.tsISO = NormalizeTimestamp(ev.Date, ev.Time)

	case EventHeader:
		c.workload = c.interner.Intern(ev.Workload)
		c.serviceClass = c.interner.Intern(ev.ServiceClass)
		c.period = ev.Period
		c.state = stateAwaitingTotal

	case EventZeroData:
		if c.state == stateAwaitingTotal {
			c.state = stateSkipping
		}

	case EventTotal:
		if c.state != stateAwaitingTotal {
			return domain.Record{}, false
		}
		c.state = stateSeeking

		value, err := strconv.ParseFloat(ev.Total, 64)
		if err != nil {
			log.Debug().
				Str("file", c.sourceFile).
				Str("workload", c.workload).
				Str("service_class", c.serviceClass).
				Str("value", ev.Total).
				Msg("Unparseable total, record dropped")
			return domain.Record{}, false
		}

		return domain.Record{
			TimestampDisplay: c.tsDisplay,
			TimestampISO:     c.tsISO,
			Workload:         c.workload,
			ServiceClass:     c.serviceClass,
			Period:           c.period,
			Utilization:      value,
			SourceFile:       c.sourceFile,
		}, true
	}

	return domain.Record{}, false
}

// NormalizeTimestamp returns the display form "MM/DD/YYYY HH.MM.SS" and the
// ISO form "YYYY-MM-DDTHH:MM:SS". An invalid date keeps the display form as
// the ISO value rather than failing.
func NormalizeTimestamp(date, clock string) (display, iso string) {
	display = date + " " + clock

	t, err := time.Parse(reportTimestampLayout, date+"-"+clock)
	if err != nil {
		log.Debug().Str("timestamp", display).Err(err).Msg("Timestamp not normalized")
		return display, display
	}
	return display, t.Format(domain.ISOLayout)
}
