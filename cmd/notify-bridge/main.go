// The notify-bridge drains build notifications from Redis and turns
// them into in-game chat via the world server console. It runs next to
// the world server so the build service itself never needs game access.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vyvo/worldsmith/pkg/config"
	"github.com/vyvo/worldsmith/pkg/queue"
	"github.com/vyvo/worldsmith/pkg/sink"
)

func main() {
	var requesters string
	flag.StringVar(&requesters, "requesters", "", "comma-separated requester names to bridge")
	flag.Parse()

	names := splitNames(requesters)
	if len(names) == 0 {
		log.Fatal("at least one requester is required, use -requesters")
	}

	cfg, err := config.LoadBuilder()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		log.Fatal("redis_addr must be configured for the bridge")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q, err := queue.NewQueue("redis://" + cfg.RedisAddr)
	if err != nil {
		log.Fatalf("queue init failed: %v", err)
	}
	defer q.Close()

	var console sink.Sink = sink.LogSink{}
	if host := strings.TrimSpace(cfg.SSHHost); host != "" {
		sshSink, err := sink.DialSSH(sink.SSHConfig{
			Host:            host,
			Port:            cfg.SSHPort,
			Username:        cfg.SSHUsername,
			Password:        cfg.SSHPassword,
			PrivateKey:      cfg.SSHPrivateKey,
			ConsoleTemplate: cfg.SSHConsoleTemplate,
		})
		if err != nil {
			log.Fatalf("ssh sink init failed: %v", err)
		}
		defer sshSink.Close()
		console = sshSink
	}

	log.Printf("bridging notifications for %s", strings.Join(names, ", "))
	for _, name := range names {
		go bridge(ctx, q, console, name)
	}

	<-ctx.Done()
	log.Printf("notify bridge stopping")
}

func bridge(ctx context.Context, q *queue.Queue, console sink.Sink, requester string) {
	for {
		n, err := q.Pop(ctx, requester, 5*time.Second)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			log.Printf("bridge %s: pop: %v", requester, err)
			time.Sleep(time.Second)
			continue
		}
		if n == nil {
			continue
		}

		msg := render(n)
		cmd := fmt.Sprintf(`tellraw %s {"rawtext":[{"text":%q}]}`, requester, msg)
		if err := console.Dispatch(ctx, cmd); err != nil {
			log.Printf("bridge %s: dispatch: %v", requester, err)
		}
	}
}

func render(n *queue.Notification) string {
	switch n.Kind {
	case queue.KindPlanReady:
		return fmt.Sprintf("Your design is ready: %d commands for %d coins. Confirm to build.", n.Commands, n.Cost)
	case queue.KindPlanFailed:
		return "Design failed: " + n.Reason
	case queue.KindProgress:
		return fmt.Sprintf("Building... %d/%d", n.Done, n.Total)
	case queue.KindCompleted:
		return fmt.Sprintf("Build #%d finished!", n.RecordID)
	default:
		return string(n.Kind)
	}
}

func splitNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
