package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/cargolane/notify-core/internal/credential"
	"github.com/cargolane/notify-core/internal/notifcache"
	"github.com/cargolane/notify-core/internal/notifclient"
	"github.com/cargolane/notify-core/internal/notification"
	"github.com/cargolane/notify-core/internal/reconcile"
	"github.com/cargolane/notify-core/internal/stream"
)

// notifytail follows the operational notification stream of the logged-in
// back-office user in a terminal.
//
// Usage:
//
//	notifytail login <bearer-token>
//	notifytail logout
//	notifytail
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	viper.SetDefault("GATEWAY_URL", "http://localhost:8080/v1")
	viper.AutomaticEnv()

	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "login":
			if len(args) != 2 {
				log.Fatal().Msg("usage: notifytail login <bearer-token>")
			}
			if err := credential.Set(credential.TokenKey, args[1]); err != nil {
				log.Fatal().Err(err).Msg("failed to store bearer token")
			}
			log.Info().Msg("bearer token stored")
			return
		case "logout":
			if err := credential.Delete(credential.TokenKey); err != nil {
				log.Fatal().Err(err).Msg("failed to remove bearer token")
			}
			log.Info().Msg("bearer token removed")
			return
		default:
			log.Fatal().Str("command", args[0]).Msg("unknown command")
		}
	}

	follow(viper.GetString("GATEWAY_URL"))
}

func follow(gatewayURL string) {
	tokens := credential.NewKeyringSource()
	store := notifcache.NewStore()
	client := notifclient.NewClient(gatewayURL, tokens)
	defer client.Close()

	reconciler := reconcile.New(client, store, reconcile.WithInterval(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := reconciler.Refresh(ctx); err != nil {
		log.Fatal().Err(err).Msg("initial notification fetch failed")
	}

	snapshot := store.Snapshot()
	fmt.Printf("-- %d notifications cached, %d unread --\n", len(snapshot.Notifications), snapshot.UnreadCount)
	for _, n := range snapshot.Notifications {
		printNotification(n)
	}

	manager := stream.NewManager(gatewayURL, tokens, store, stream.WithAlerter(consoleAlerter{}))
	manager.Connect()

	if err := reconciler.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start periodic refresh")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	manager.Disconnect()
	if err := reconciler.Stop(); err != nil {
		log.Warn().Err(err).Msg("failed to stop periodic refresh")
	}
	fmt.Printf("-- %d unread --\n", store.UnreadCount())
}

// consoleAlerter stands in for the OS notification bridge.
type consoleAlerter struct{}

func (consoleAlerter) Alert(n notification.Notification) {
	printNotification(n)
}

func printNotification(n notification.Notification) {
	marker := " "
	if !n.IsRead {
		marker = "*"
	}
	fmt.Printf("%s [%s] %-8s %s: %s (%s)\n", marker, n.Type, n.Priority, n.Title, n.Message, humanize.Time(n.CreatedAt))
}
