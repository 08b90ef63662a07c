package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hamzalamin/qatrat-chat-core/internal/client"
	"github.com/hamzalamin/qatrat-chat-core/internal/config"
	"github.com/hamzalamin/qatrat-chat-core/internal/logx"
	"github.com/hamzalamin/qatrat-chat-core/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCfg := cfg.Log
	logCfg.ServiceName = "chat-client"
	logx.Init(logCfg)

	viewerID := os.Getenv("CHAT_USER_ID")
	token := os.Getenv("CHAT_TOKEN")
	if viewerID == "" || token == "" {
		log.Fatal("CHAT_USER_ID and CHAT_TOKEN must be set")
	}

	history := client.NewHistoryClient(cfg.Client.APIURL, token)
	directory := client.NewDirectory(cfg.Client.APIURL, token)

	sess := session.New(session.Options{
		ViewerID:  viewerID,
		ServerURL: cfg.Client.ServerURL,
		Transport: cfg.WebSocket,
		History:   history,
		Directory: directory,
		OnRender:  render,
		OnStateChange: func(state session.ConnectionState, err error) {
			if err != nil {
				fmt.Printf("-- connection %s: %v\n", state, err)
				return
			}
			fmt.Printf("-- connection %s\n", state)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Connect(ctx, token); err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	defer sess.Disconnect()

	fmt.Println("commands: /to <user-id>, /quit; anything else is sent")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if handleLine(ctx, sess, line) {
				return
			}
		}
	}
}

// handleLine returns true when the client should exit.
func handleLine(ctx context.Context, sess *session.Session, line string) bool {
	switch {
	case line == "/quit":
		return true

	case strings.HasPrefix(line, "/to "):
		counterpart := strings.TrimSpace(strings.TrimPrefix(line, "/to "))
		if err := sess.SelectCounterpart(ctx, counterpart); err != nil {
			fmt.Printf("-- %v\n", err)
		}

	default:
		if err := sess.Send(line); err != nil {
			fmt.Printf("-- send rejected: %v\n", err)
		}
	}
	return false
}

func render(snap session.Snapshot) {
	if snap.CounterpartID == "" {
		return
	}
	fmt.Printf("--- conversation with %s (%s) ---\n", snap.CounterpartID, snap.State)
	for _, msg := range snap.Messages {
		name := msg.SenderID
		if msg.Sender != nil && msg.Sender.DisplayName != "" {
			name = msg.Sender.DisplayName
		}
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Local().Format("15:04:05"), name, msg.Content)
	}
}
