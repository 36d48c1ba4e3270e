package eventdriver

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/johnjansen/marlin/jobs"
)

// flushTaskType is the asynq task name the SureDelivery retry cycle
// reschedules itself under.
const flushTaskType = "eventdriver:flush"

// RegisterRetryJob wires d's SureDelivery retry/flush cycle onto rt's
// task mux (spec.md §4.H: undelivered SureDelivery events are retried
// until acknowledged or the channel is unregistered). The handler
// flushes once, then re-enqueues itself after interval, a
// self-rescheduling asynq task rather than a separate ticker
// goroutine — grounded on jobs.Runtime's existing Enqueue/EnqueueIn
// wrapping around hibiken/asynq.
func RegisterRetryJob(rt *jobs.Runtime, d *Driver, interval time.Duration) {
	if rt.Mux == nil {
		return
	}
	rt.Mux.HandleFunc(flushTaskType, func(ctx context.Context, t *asynq.Task) error {
		remaining := d.FlushSureDelivery()
		if remaining > 0 {
			log.Printf("eventdriver: %d SureDelivery events still queued after flush", remaining)
		}
		return rt.EnqueueIn(interval, flushTaskType, struct{}{})
	})
}

// StartRetryJob kicks off the first flush cycle; subsequent runs are
// scheduled by the handler itself via RegisterRetryJob.
func StartRetryJob(rt *jobs.Runtime, interval time.Duration) error {
	return rt.EnqueueIn(interval, flushTaskType, struct{}{})
}
