// ws-client подключается к потоку событий сессий рекордера и печатает их.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/session"
)

// wsMessage повторяет формат сообщений сервера.
type wsMessage struct {
	Type     string         `json:"type"`
	Event    string         `json:"event,omitempty"`
	Key      string         `json:"key,omitempty"`
	Handle   string         `json:"handle,omitempty"`
	Sessions []session.Info `json:"sessions,omitempty"`
}

func main() {
	var (
		raw    bool
		limit  int
		urlStr string
	)
	flag.StringVar(&urlStr, "url", "ws://127.0.0.1:8080/api/v1/ws/sessions", "WebSocket URL of recorder server")
	flag.BoolVar(&raw, "raw", false, "print raw JSON messages")
	flag.IntVar(&limit, "limit", 0, "stop after N session events (0 = infinite)")
	flag.Parse()

	lg, err := logging.New(logging.Options{Console: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := lg.Logger

	u, err := url.Parse(urlStr)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		log.Fatal().Str("url", urlStr).Msg("url must start with ws:// or wss://")
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer conn.Close()
	log.Info().Str("url", urlStr).Msg("connected")

	events := 0
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Msg("connection closed by peer")
				return
			}
			log.Error().Err(err).Msg("read message")
			return
		}
		if raw {
			fmt.Println(string(payload))
			continue
		}
		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn().Err(err).Msg("invalid json")
			continue
		}
		if describe(log, msg) {
			events++
		}
		if limit > 0 && events >= limit {
			log.Info().Int("events", events).Msg("limit reached, exiting")
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// describe печатает сообщение и сообщает, было ли это событие сессии.
func describe(log zerolog.Logger, msg wsMessage) bool {
	switch strings.ToLower(msg.Type) {
	case "snapshot":
		log.Info().Int("sessions", len(msg.Sessions)).Msg("snapshot")
		for _, s := range msg.Sessions {
			log.Info().Str("key", s.Key).Str("state", s.State).Int("channels", s.Channels).
				Int64("writes", s.Writes).Int64("laps", s.Laps).Msg("  session")
		}
		return false
	case "event":
		log.Info().Str("event", msg.Event).Str("key", msg.Key).Str("handle", msg.Handle).Msg("session event")
		return true
	default:
		log.Debug().Str("type", msg.Type).Msg("message ignored")
		return false
	}
}
