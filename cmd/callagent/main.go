// Command callagent is a headless call client: one call session driven
// from stdin, connected to the registry API and the signaling gateway.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ringline/config"
	"ringline/internal/events"
	"ringline/internal/media"
	"ringline/internal/registryclient"
	"ringline/internal/services"
	"ringline/internal/session"
	"ringline/internal/signaling"
	"ringline/pkg/logger"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

const help = `commands: call <ids...> [--video] | accept | decline | hangup | minimize | float | fullscreen | media on|off on|off | status | quit`

func main() {
	cfg := config.LoadConfig()
	appLogger := logger.New(logger.DevelopmentMode)
	logger.SetGlobalLogger(appLogger)
	defer appLogger.Sync()

	if cfg.AgentToken == "" {
		log.Fatalf("AGENT_TOKEN is required")
	}
	id, err := services.NewAuthService(cfg).ParseAccessToken(cfg.AgentToken)
	if err != nil {
		log.Fatalf("Invalid AGENT_TOKEN: %v", err)
	}
	userID := id.UserID.String()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := session.New(session.Config{
		UserID: userID,
		Policy: session.Policy{RingTimeout: cfg.RingTimeout, ConnectTimeout: cfg.ConnectTimeout},
	}, registryclient.New(cfg.RegistryURL, cfg.AgentToken), media.NewBridge(appLogger.Named("media")), appLogger)

	channel := signaling.NewClient(cfg.GatewayURL, cfg.AgentToken, appLogger)
	go channel.Subscribe(ctx, sess.Deliver)
	go watch(ctx, sess, channel, userID, appLogger)

	// the session outlives the signal context so quitting can still hang up
	go func() {
		if err := sess.Run(context.Background()); err != nil && !errors.Is(err, session.ErrClosed) {
			appLogger.Logger.Info("session stopped", zap.Error(err))
		}
		stop()
	}()
	quit := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sess.Shutdown(shutdownCtx); err != nil {
			appLogger.Logger.Warn("session shutdown incomplete", zap.Error(err))
		}
	}

	fmt.Println(help)
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
			quit()
			return
		case line, ok := <-lines:
			if !ok {
				quit()
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Printf("%v\n%s\n", err, help)
				continue
			}
			switch cmd.name {
			case "quit":
				quit()
				return
			case "status":
				printView(sess.View())
			default:
				apply(sess, cmd)
			}
		}
	}
}

// watch prints every view and notice, and tells co-participants when this
// agent enters or leaves a connected call.
func watch(ctx context.Context, sess *session.Session, channel *signaling.Client, userID string, l *logger.Logger) {
	views, cancel := sess.Subscribe()
	defer cancel()

	var connectedCall string
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-sess.Notices():
			fmt.Printf("! %s: %s (%v)\n", n.Kind, n.Message, n.Err)
		case v := <-views:
			printView(v)
			switch {
			case v.Status == session.StatusConnected && connectedCall != v.CallID:
				connectedCall = v.CallID
				channel.Publish(ctx, events.ParticipantJoined{CallID: v.CallID, ParticipantID: userID})
			case v.Status != session.StatusConnected && connectedCall != "":
				channel.Publish(ctx, events.ParticipantLeft{CallID: connectedCall, ParticipantID: userID})
				connectedCall = ""
			}
		}
	}
}

func printView(v session.View) {
	switch v.Status {
	case session.StatusIdle:
		fmt.Println("* idle")
	case session.StatusRingingIncoming:
		from := ""
		if v.Incoming != nil {
			from = v.Incoming.Initiator.Name
		}
		fmt.Printf("* incoming %s call %s from %s (accept/decline)\n", v.Kind, v.CallID, from)
	default:
		fmt.Printf("* %s call=%s kind=%s remotes=%v surface=%s audio=%t video=%t reconnecting=%t\n",
			v.Status, v.CallID, v.Kind, v.Remotes, v.Surface, v.Audio, v.Video, v.Reconnecting)
	}
}
