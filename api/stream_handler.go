package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog/log"

	"github.com/cargolane/notify-core/internal/notification"
	"github.com/cargolane/notify-core/internal/registry"
	"github.com/cargolane/notify-core/internal/stream"
	"github.com/cargolane/notify-core/internal/token"
)

// streamNotifications relays the upstream push stream to the caller. Events
// pass through unmodified; the gateway adds its own heartbeat frames while
// the upstream is idle so intermediate proxies keep the connection alive.
func (server *Server) streamNotifications(c *gin.Context) {
	authPayload := c.MustGet(authorizationPayloadKey).(*token.Payload)
	bearer := c.MustGet(bearerTokenKey).(string)
	userID := authPayload.Subject

	connID := shortuuid.New()

	if err := server.streamRegistry.Acquire(c.Request.Context(), userID, connID); err != nil {
		if errors.Is(err, registry.ErrTooManyStreams) {
			c.JSON(http.StatusTooManyRequests, errorResponse(err))
			return
		}
		log.Error().Err(err).Msg("failed to register stream connection")
		c.JSON(http.StatusInternalServerError, errorResponse(err))
		return
	}
	defer func() {
		// The request context is usually already cancelled here.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.streamRegistry.Release(releaseCtx, userID, connID); err != nil {
			log.Warn().Err(err).Str("conn_id", connID).Msg("failed to release stream slot")
		}
	}()

	upstreamURL := fmt.Sprintf("%s/notifications/stream?token=%s", server.config.UpstreamBaseURL, url.QueryEscape(bearer))
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, upstreamURL, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse(err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := server.streamClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("failed to open upstream notification stream")
		c.JSON(http.StatusBadGateway, errorResponse(ErrUpstreamUnreachable))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Msg("upstream notification stream refused")
		c.JSON(http.StatusBadGateway, errorResponse(ErrUpstreamUnreachable))
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("conn_id", connID).
		Msg("notification stream relay opened")

	// SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	frames := make(chan stream.Event, 8)
	readErr := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(resp.Body)
		for {
			ev, err := stream.ReadEvent(reader)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- ev:
			case <-c.Request.Context().Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(server.config.StreamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev := <-frames:
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
			c.Writer.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", notification.EventHeartbeat)
			c.Writer.Flush()
			if err := server.streamRegistry.Heartbeat(c.Request.Context(), userID, connID); err != nil {
				log.Warn().Err(err).Str("conn_id", connID).Msg("stream heartbeat failed")
			}
		case err := <-readErr:
			// Upstream went away; tell the client this is a graceful close so
			// it falls back to REST instead of hammering a dead relay.
			log.Warn().Err(err).Str("conn_id", connID).Msg("upstream notification stream ended")
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", notification.EventDisconnected)
			c.Writer.Flush()
			return
		case <-c.Request.Context().Done():
			log.Info().Str("conn_id", connID).Msg("client closed notification stream")
			return
		}
	}
}
