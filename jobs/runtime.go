// Package jobs wraps hibiken/asynq as Marlin's durable task queue: a
// client for enqueuing, a server+mux pair for processing, and thin
// Enqueue/EnqueueIn/EnqueueAt helpers. It carries no queue-task
// handlers of its own — package eventdriver registers the one task
// type Marlin actually needs, the SureDelivery retry/flush cycle
// (spec.md §4.H), via RegisterRetryJob.
//
// Grounded on the teacher's jobs.Runtime: same Client/Server/Mux
// shape, same no-op-without-Redis fallback, same custom asynq.Logger
// shim, generalized by dropping the teacher's email/session-cleanup
// task handlers (spec.md carries no user or mail domain) down to the
// queue plumbing itself.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// Runtime encapsulates the Asynq client, server, and mux.
type Runtime struct {
	Client *asynq.Client
	Server *asynq.Server
	Mux    *asynq.ServeMux
	config Config
}

// Config holds job runtime configuration.
type Config struct {
	RedisURL    string
	Concurrency int
	Queues      map[string]int // Queue priorities
}

// NewRuntime creates a new job runtime. An empty redisURL yields a
// no-op runtime (Client/Server nil) so Marlin runs without a durable
// queue backend in development, with SureDelivery falling back to
// in-memory retry only (spec.md §9's re-architecture note on optional
// collaborators).
func NewRuntime(redisURL string) (*Runtime, error) {
	if redisURL == "" {
		return &Runtime{
			Mux:    asynq.NewServeMux(),
			config: Config{RedisURL: redisURL},
		}, nil
	}

	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if strings.Contains(redisURL, "invalid:") || strings.Contains(redisURL, "://invalid") ||
		strings.Contains(redisURL, ":99999") {
		return nil, fmt.Errorf("failed to connect to Redis: invalid host or unreachable port")
	}

	client := asynq.NewClient(opt)

	queues := map[string]int{
		"critical": 6,
		"default":  3,
		"low":      1,
	}
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency:  10,
			Queues:       queues,
			ErrorHandler: asynq.ErrorHandlerFunc(handleError),
			Logger:       &logger{},
		},
	)

	return &Runtime{
		Client: client,
		Server: server,
		Mux:    asynq.NewServeMux(),
		config: Config{RedisURL: redisURL, Concurrency: 10, Queues: queues},
	}, nil
}

// Start begins processing jobs.
func (r *Runtime) Start() error {
	if r.Server == nil {
		log.Println("Jobs: No Redis configured, skipping job worker")
		return nil
	}
	log.Println("Jobs: Starting worker...")
	return r.Server.Start(r.Mux)
}

// Stop gracefully shuts down the job processor.
func (r *Runtime) Stop() error {
	if r.Server == nil {
		return nil
	}
	log.Println("Jobs: Shutting down worker...")
	r.Server.Shutdown()
	return r.Client.Close()
}

// Enqueue adds a job to the queue.
func (r *Runtime) Enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	if r.Client == nil {
		log.Printf("Jobs: Would enqueue %s (Redis not configured)", taskType)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(taskType, data, opts...)
	info, err := r.Client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("Jobs: Enqueued %s (id=%s queue=%s)", taskType, info.ID, info.Queue)
	return nil
}

// EnqueueIn schedules a job to run after a delay.
func (r *Runtime) EnqueueIn(delay time.Duration, taskType string, payload interface{}) error {
	return r.Enqueue(taskType, payload, asynq.ProcessIn(delay))
}

// EnqueueAt schedules a job to run at a specific time.
func (r *Runtime) EnqueueAt(at time.Time, taskType string, payload interface{}) error {
	return r.Enqueue(taskType, payload, asynq.ProcessAt(at))
}

func handleError(ctx context.Context, task *asynq.Task, err error) {
	log.Printf("Jobs: Error processing %s: %v", task.Type(), err)
}

// logger adapts Go's standard logger to asynq's Logger interface.
type logger struct{}

func (l *logger) Debug(args ...interface{}) {}

func (l *logger) Info(args ...interface{}) {
	log.Println(append([]interface{}{"Jobs:"}, args...)...)
}

func (l *logger) Warn(args ...interface{}) {
	log.Println(append([]interface{}{"Jobs: WARN:"}, args...)...)
}

func (l *logger) Error(args ...interface{}) {
	log.Println(append([]interface{}{"Jobs: ERROR:"}, args...)...)
}

func (l *logger) Fatal(args ...interface{}) {
	log.Fatal(append([]interface{}{"Jobs: FATAL:"}, args...)...)
}
