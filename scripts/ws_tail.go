// Package main is a demo client: it registers an outgoing webhook, tails its
// delivery stream over WebSocket and fires a test event at it.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	host := flag.String("host", "localhost:8080", "hookrelay host:port")
	target := flag.String("target", "https://httpbin.org/post", "URL the demo webhook delivers to")
	id := flag.String("id", "", "existing webhook id; a new one is created when empty")
	wait := flag.Duration("wait", 5*time.Second, "how long to tail")
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	base := "http://" + *host
	if *id == "" {
		body, _ := json.Marshal(map[string]any{"webhookType": "outgoing", "name": "ws demo", "url": *target, "events": []string{"*"}})
		var created struct {
			ID string `json:"id"`
		}
		if err := call(http.MethodPost, base+"/v1/webhooks", body, &created); err != nil {
			log.Fatal().Err(err).Msg("create webhook")
		}
		*id = created.ID
	}
	log.Info().Str("webhook_id", *id).Msg("tailing")

	u := url.URL{Scheme: "ws", Host: *host, Path: "/v1/webhooks/" + *id + "/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Info().Err(err).Msg("stream closed")
				return
			}
			log.Info().Str("type", m.Type).RawJSON("payload", orNull(m.Payload)).Msg("WS <-")
		}
	}()

	// Trigger a delivery so something shows up on the stream.
	time.Sleep(300 * time.Millisecond)
	var res map[string]any
	if err := call(http.MethodPost, base+"/v1/webhooks/"+*id+"/test", nil, &res); err != nil {
		log.Error().Err(err).Msg("test webhook")
	}
	ev, _ := json.Marshal(map[string]any{"eventType": "user.created", "payload": map[string]any{"userId": "demo"}})
	if err := call(http.MethodPost, base+"/v1/events", ev, &res); err != nil {
		log.Error().Err(err).Msg("send event")
	}

	select {
	case <-time.After(*wait):
	case <-done:
	}
}

func call(method, u string, body []byte, out any) error {
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, u, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func orNull(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
