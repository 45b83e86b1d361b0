// roomwatch connects to a relay room and streams document updates to
// the console.
// Usage: go run ./cmd/roomwatch -url http://localhost:8080 -room doc-1
//
// The token comes from -token or the ROOMSYNC_TOKEN environment
// variable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/roomsync-dev/roomsync/internal/api"
	"github.com/roomsync-dev/roomsync/internal/collab"
	"github.com/roomsync-dev/roomsync/internal/crdt"
	"github.com/roomsync-dev/roomsync/internal/transport"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "relay base URL")
	room := flag.String("room", "", "room to watch")
	token := flag.String("token", os.Getenv("ROOMSYNC_TOKEN"), "auth token")
	list := flag.Bool("list", false, "list active rooms and exit")
	send := flag.String("send", "", "submit one update after syncing")
	verbose := flag.Bool("verbose", false, "print full update payloads")
	duration := flag.Duration("duration", 0, "stop after this long, 0 means until interrupted")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if *duration > 0 {
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(*duration):
				logger.Info("watch duration elapsed")
				cancel()
			}
		}()
	}

	if *list {
		listRooms(ctx, *baseURL, *token, logger)
		return
	}

	if *room == "" {
		logger.Error("a room is required, e.g. -room doc-1")
		os.Exit(1)
	}

	// Wire the client stack: transport opener, manager, binder.
	opener := transport.NewWSOpener(transport.Config{Token: *token}, logger)
	manager := collab.New(collab.DefaultConfig(), opener, logger)
	binder := collab.NewBinder(manager, logger)

	wsBase := "ws" + strings.TrimPrefix(*baseURL, "http")
	endpoint := collab.EndpointURL("", wsBase, *room)
	logger.Info("binding room", "room", *room, "endpoint", endpoint)

	if err := binder.Update(ctx, collab.Binding{Room: *room, URL: endpoint}); err != nil {
		logger.Error("failed to bind room", "error", err)
		os.Exit(1)
	}

	session := manager.Session()
	doc := session.Document()
	updates := doc.Watch()

	go printStatus(ctx, manager.Updates())
	go printUpdates(ctx, updates, *verbose)

	if *send != "" {
		go submitWhenSynced(ctx, manager, *send, logger)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats",
					"updates", doc.Len(),
					"remote", doc.RemoteLen(),
					"failures", manager.Failures(*room),
					"disabled", manager.IsDisabled(*room),
				)
			}
		}
	}()

	logger.Info("watching - press Ctrl+C to stop", "room", *room)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	binder.Close()
	manager.Close()

	logger.Info("shutdown complete", "updates_seen", doc.Len())
}

func listRooms(ctx context.Context, baseURL, token string, logger *slog.Logger) {
	client := api.NewClient(baseURL, token, api.WithLogger(logger))

	health, err := client.GetHealth(ctx)
	if err != nil {
		logger.Error("failed to reach relay", "error", err)
		os.Exit(1)
	}
	fmt.Printf("relay %s: rooms=%d clients=%d uptime=%ds\n",
		health.Status, health.Rooms, health.Clients, health.UptimeSeconds)

	rooms, err := client.GetRooms(ctx)
	if err != nil {
		logger.Error("failed to list rooms", "error", err)
		os.Exit(1)
	}
	for _, r := range rooms {
		fmt.Printf("[ROOM] name=%s members=%d seq=%d log=%d last_activity=%s\n",
			r.Room, r.Members, r.Seq, r.LogLen, r.LastActivity.Format(time.RFC3339))
	}
}

func printStatus(ctx context.Context, statuses <-chan collab.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-statuses:
			data, _ := json.Marshal(st)
			fmt.Printf("[STATUS] %s\n", data)
		}
	}
}

func printUpdates(ctx context.Context, updates <-chan crdt.Update, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if verbose {
				fmt.Printf("[UPDATE] remote=%t payload=%q\n", u.Remote, u.Payload)
			} else {
				fmt.Printf("[UPDATE] remote=%t bytes=%d\n", u.Remote, len(u.Payload))
			}
		}
	}
}

// submitWhenSynced waits for the session to catch up, then submits the
// payload once.
func submitWhenSynced(ctx context.Context, manager *collab.Manager, payload string, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}

		if !manager.Status().Synced {
			continue
		}
		s := manager.Session()
		if s == nil {
			return
		}
		s.Document().Submit([]byte(payload))
		logger.Info("update submitted", "bytes", len(payload))
		return
	}
}
