/*
relayc is a debug CLI for the relay. It can mint session tokens from a
shared secret, tail topics over the realtime socket, and drive the
publish and mutation endpoints.

	relayc -config relay.yaml mint <user-id>
	relayc -url http://127.0.0.1:8080 -session <token> subscribe <topic> [topic...]
	relayc -url ... -session <token> publish <topic> <event> <json>
	relayc -url ... -session <token> send <workspace> <channel> <content>
	relayc -url ... -session <token> history <workspace> <channel>
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/InsulaLabs/relay/auth"
	"github.com/InsulaLabs/relay/client"
	"github.com/InsulaLabs/relay/config"
	"github.com/InsulaLabs/relay/models"
)

var (
	logger       *slog.Logger
	configPath   string
	baseURL      string
	sessionToken string
	skipVerify   bool
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger = slog.New(handler)

	flag.StringVar(&configPath, "config", "relay.yaml", "Path to the relay configuration file (for mint)")
	flag.StringVar(&baseURL, "url", "http://127.0.0.1:8080", "Relay base URL")
	flag.StringVar(&sessionToken, "session", "", "Session token for authenticated commands")
	flag.BoolVar(&skipVerify, "insecure", false, "Skip TLS certificate verification")
}

func usageAndExit() {
	fmt.Fprintln(os.Stderr, "usage: relayc [flags] <mint|subscribe|publish|send|history> [args...]")
	flag.PrintDefaults()
	os.Exit(1)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usageAndExit()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := args[0]
	rest := args[1:]

	var err error
	switch command {
	case "mint":
		err = handleMint(rest)
	case "subscribe":
		err = handleSubscribe(ctx, rest)
	case "publish":
		err = handlePublish(ctx, rest)
	case "send":
		err = handleSend(ctx, rest)
	case "history":
		err = handleHistory(ctx, rest)
	default:
		usageAndExit()
	}
	if err != nil {
		logger.Error("Command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func getClient() (*client.Client, error) {
	if sessionToken == "" {
		return nil, fmt.Errorf("-session is required for this command")
	}
	return client.New(client.Config{
		BaseURL:      baseURL,
		SessionToken: sessionToken,
		SkipVerify:   skipVerify,
		Logger:       logger,
	})
}

// handleMint issues a session token locally from the config's shared
// secret. Dev convenience; production tokens come from the identity
// service.
func handleMint(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mint <user-id>")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL(), cfg.Auth.ConnectionTokenTTL())
	if err != nil {
		return err
	}
	token, err := tokens.MintSessionToken(auth.Identity{UserID: args[0], Username: args[0]})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func handleSubscribe(ctx context.Context, topicArgs []string) error {
	if len(topicArgs) == 0 {
		return fmt.Errorf("usage: subscribe <topic> [topic...]")
	}

	c, err := getClient()
	if err != nil {
		return err
	}

	conn := c.Dial()
	for _, topic := range topicArgs {
		topic := topic
		if _, err := conn.Subscriptions().Subscribe(topic, func(env models.Envelope) {
			fmt.Printf("[%s] %s %s\n", topic, env.Event, string(env.Data))
		}); err != nil {
			return err
		}
	}

	if err := conn.Run(ctx); err != nil {
		return err
	}
	defer conn.Close()

	logger.Info("Subscribed, waiting for events", "topics", topicArgs)
	<-ctx.Done()
	return nil
}

func handlePublish(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: publish <topic> <event> <json>")
	}

	c, err := getClient()
	if err != nil {
		return err
	}

	var data json.RawMessage
	if err := json.Unmarshal([]byte(args[2]), &data); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return c.Publish(ctx, args[0], models.EventKind(args[1]), data)
}

func handleSend(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: send <workspace-id> <channel-id> <content>")
	}

	c, err := getClient()
	if err != nil {
		return err
	}
	msg, err := c.SendMessage(ctx, client.OutgoingMessage{
		WorkspaceID: args[0],
		ChannelID:   args[1],
		Content:     args[2],
	})
	if err != nil {
		return err
	}
	fmt.Println(msg.ID)
	return nil
}

func handleHistory(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: history <workspace-id> <channel-id>")
	}

	c, err := getClient()
	if err != nil {
		return err
	}
	msgs, err := c.Messages(ctx, client.MessagesQuery{WorkspaceID: args[0], ChannelID: args[1]})
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-12s  %s\n", m.CreatedAt.Format("15:04:05"), m.SenderID, m.Content)
	}
	return nil
}
