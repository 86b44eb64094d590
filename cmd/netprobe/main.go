// netprobe is a command-line exerciser for the networking core. It connects
// to a relay, optionally hosts or joins a room, and prints every event the
// client publishes. Useful for poking at a relay without booting the game.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slipstream/netcore"
	"slipstream/netcore/internal/config"
	"slipstream/netcore/internal/logging"
	"slipstream/netcore/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "netprobe:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML configuration file")
	host := flag.String("host", "", "override the relay host")
	name := flag.String("name", "", "override the player display name")
	hostRoom := flag.String("host-room", "", "host a room with this name after connecting")
	joinRoom := flag.String("join-room", "", "join this room id after connecting")
	maxPlayers := flag.Int("max-players", 8, "room capacity when hosting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.ServerHost = *host
	}
	if *name != "" {
		cfg.PlayerName = *name
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()
	logging.ReplaceGlobals(logger)

	client, err := netcore.New(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	//1.- Print every event so the operator can watch the protocol flow.
	client.Subscribe(func(event netcore.Event) {
		switch typed := event.(type) {
		case netcore.ConnectionEvent:
			if typed.Reason != nil {
				fmt.Printf("[%s] %s -> %s (%v)\n", event.Kind(), typed.From, typed.To, typed.Reason)
			} else {
				fmt.Printf("[%s] %s -> %s\n", event.Kind(), typed.From, typed.To)
			}
		case netcore.RoomListEvent:
			fmt.Printf("[%s] %d rooms\n", event.Kind(), len(typed.Rooms))
			for _, room := range typed.Rooms {
				fmt.Printf("  %s %q %d/%d\n", room.RoomID, room.Name, room.PlayerCount, room.MaxPlayers)
			}
		case netcore.LatencyEvent:
			fmt.Printf("[%s] %s (avg %s)\n", event.Kind(), typed.Sample, typed.Average)
		default:
			fmt.Printf("[%s] %+v\n", event.Kind(), event)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	fmt.Printf("connected as %s\n", client.ClientID())

	if *hostRoom != "" {
		if err := client.HostRoom(*hostRoom, *maxPlayers); err != nil {
			return err
		}
	} else if *joinRoom != "" {
		if err := client.JoinRoom(*joinRoom); err != nil {
			return err
		}
	} else if err := client.RefreshRooms(); err != nil {
		return err
	}

	//2.- Drive the client the way a game loop would, reconnecting on loss.
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			client.Disconnect()
			return nil
		case now := <-ticker.C:
			client.Tick(now.Sub(last).Seconds())
			last = now
			if client.State() == session.StateFailed {
				fmt.Println("session lost, reconnecting")
				if err := client.Reconnect(ctx); err != nil {
					return err
				}
				fmt.Printf("reconnected as %s\n", client.ClientID())
			}
		}
	}
}
