// Package engine executes one resolved command sequence at a time
// against the world console.
package engine

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/vyvo/worldsmith/pkg/command"
)

var (
	// ErrBusy is returned when a build is already in flight.
	ErrBusy = errors.New("a build is already running")
	// ErrMissingOrigin is returned when execution is started without an
	// anchor point. There is no fallback to an ambient position.
	ErrMissingOrigin = errors.New("build origin is missing")
)

// Dispatcher sends one resolved command to the world.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd string) error
}

// EventKind labels engine notifications.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
)

// Event is posted to the owner's channel as execution advances. No
// completion event is ever posted for a cancelled run.
type Event struct {
	Kind      EventKind
	Requester string
	Done      int
	Total     int
}

// Engine runs at most one command sequence at a time. Cancellation is
// advisory: the current command finishes, then the run stops quietly.
type Engine struct {
	dispatcher Dispatcher
	delay      time.Duration
	events     chan<- Event

	running   atomic.Bool
	cancelled atomic.Bool
}

// New builds an engine that reports through events. A non-positive
// delay disables pacing between commands.
func New(dispatcher Dispatcher, delay time.Duration, events chan<- Event) *Engine {
	return &Engine{dispatcher: dispatcher, delay: delay, events: events}
}

// Running reports whether a sequence is currently executing.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Cancel requests that the in-flight run stop after the current
// command. It is a no-op when nothing is running.
func (e *Engine) Cancel() {
	if e.running.Load() {
		e.cancelled.Store(true)
	}
}

// Start begins executing commands anchored at origin. It returns
// ErrBusy while another run is in flight and ErrMissingOrigin when no
// anchor is supplied; in both cases nothing is dispatched.
func (e *Engine) Start(ctx context.Context, requester string, origin *command.Point3, commands []string) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if origin == nil {
		e.running.Store(false)
		log.Printf("engine: refusing build for %s: no origin", requester)
		return ErrMissingOrigin
	}
	e.cancelled.Store(false)

	go e.run(ctx, requester, *origin, commands)
	return nil
}

func (e *Engine) run(ctx context.Context, requester string, origin command.Point3, commands []string) {
	defer e.running.Store(false)

	total := len(commands)
	done := 0
	for _, raw := range commands {
		if e.cancelled.Load() {
			log.Printf("engine: build for %s cancelled after %d/%d commands", requester, done, total)
			return
		}

		resolved := command.Resolve(command.Sanitize(raw), origin)
		if err := e.dispatcher.Dispatch(ctx, resolved); err != nil {
			log.Printf("engine: dispatch %q: %v", resolved, err)
			continue
		}

		done++
		e.events <- Event{Kind: EventProgress, Requester: requester, Done: done, Total: total}

		if e.delay > 0 {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				log.Printf("engine: build for %s stopped: %v", requester, ctx.Err())
				return
			}
		}
	}

	e.events <- Event{Kind: EventCompleted, Requester: requester, Done: done, Total: total}
}
