// Package report implements Marlin's reporting component (spec.md §4.J):
// the event-log and file alert channel every other component calls into
// for operator-visible incidents.
//
// Grounded on the teacher's global logging calls scattered through
// ssr.Broker/jobs.Runtime (e.g. "SSE: Dropping event for slow client"),
// generalized into spec.md §9's re-architecture note: a reporting
// service created explicitly with New and guarded by a single owning
// mutex, rather than a shared mutable global buffer. It has no shutdown
// step.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/johnjansen/marlin/logging"
)

// Severity grades how visible an incident should be.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityAlert
)

// Record is one reported incident.
type Record struct {
	Function string
	OSError  error
	Message  string
	Severity Severity
	At       time.Time
}

// Reporter receives incident records from any component. Alerts (the
// highest severity) are additionally appended to a file under
// AlertsDir, matching spec.md §7's "writes to a file under Alerts/".
type Reporter struct {
	mu        sync.Mutex
	sink      *logging.Sink
	alertsDir string
	notify    func(Record)
}

// Options configures a Reporter.
type Options struct {
	Sink      *logging.Sink
	AlertsDir string // defaults to "Alerts" under the working directory
	// Notify, if set, is additionally invoked for every record — used to
	// wire an email/SMS fan-out (see the mail package) without this
	// package depending on mail directly.
	Notify func(Record)
}

func New(opts Options) *Reporter {
	dir := opts.AlertsDir
	if dir == "" {
		dir = "Alerts"
	}
	return &Reporter{sink: opts.Sink, alertsDir: dir, notify: opts.Notify}
}

// Report records an incident: function identifier, OS-level error,
// structured message, and severity (spec.md §7's "Propagation" clause).
func (r *Reporter) Report(function string, osErr error, message string, severity Severity) {
	rec := Record{Function: function, OSError: osErr, Message: message, Severity: severity, At: time.Now()}

	if r.sink != nil {
		level := logging.LevelInfo
		if severity == SeverityWarning {
			level = logging.LevelWarn
		} else if severity == SeverityAlert {
			level = logging.LevelError
		}
		if osErr != nil {
			r.sink.Log(level, "%s: %s (%v)", function, message, osErr)
		} else {
			r.sink.Log(level, "%s: %s", function, message)
		}
	}

	if severity == SeverityAlert {
		r.writeAlertFile(rec)
	}
	if r.notify != nil {
		r.notify(rec)
	}
}

func (r *Reporter) writeAlertFile(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.alertsDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(r.alertsDir, rec.At.Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s\t%s\t%s", rec.At.Format(time.RFC3339), rec.Function, rec.Message)
	if rec.OSError != nil {
		line += "\t" + rec.OSError.Error()
	}
	_, _ = fmt.Fprintln(f, line)
}
