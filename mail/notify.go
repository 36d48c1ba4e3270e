package mail

import (
	"context"
	"fmt"

	"github.com/johnjansen/marlin/report"
)

// NotifyReportRecord adapts sender into the func(report.Record) shape
// report.Options.Notify expects: every Alert-severity record becomes
// one email to operator, lower severities are ignored so routine
// info/warning traffic doesn't flood an operator's inbox.
func NotifyReportRecord(sender Sender, operator string) func(report.Record) {
	return func(rec report.Record) {
		if rec.Severity != report.SeverityAlert {
			return
		}
		body := rec.Message
		if rec.OSError != nil {
			body = fmt.Sprintf("%s: %v", rec.Message, rec.OSError)
		}
		_ = sender.Send(context.Background(), Message{
			To:      operator,
			Subject: fmt.Sprintf("Marlin alert: %s", rec.Function),
			Text:    body,
		})
	}
}
