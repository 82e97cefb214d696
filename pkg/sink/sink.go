// Package sink delivers resolved commands to a running world server.
package sink

import (
	"context"
	"log"
)

// Sink is where resolved commands end up. Dispatch sends one command to
// the world console; Export writes a whole plan out as a function file.
type Sink interface {
	Dispatch(ctx context.Context, cmd string) error
	Export(ctx context.Context, name string, commands []string) error
}

// LogSink prints commands instead of running them. Used in development
// and as the fallback when no console is configured.
type LogSink struct{}

func (LogSink) Dispatch(_ context.Context, cmd string) error {
	log.Printf("sink: %s", cmd)
	return nil
}

func (LogSink) Export(_ context.Context, name string, commands []string) error {
	log.Printf("sink: export %s (%d commands)", name, len(commands))
	return nil
}
