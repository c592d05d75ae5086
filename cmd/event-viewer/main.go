// Event viewer: consumes conversion events from Kafka and pushes them to
// browsers over WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"audio-notation-service/internal/observability/logging"
)

const page = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Conversion events</title></head>
<body>
<h1>Conversion events</h1>
<table id="events" border="1" cellpadding="4">
<tr><th>time</th><th>event</th><th>job</th><th>file</th><th>notes</th><th>detail</th></tr>
</table>
<script>
const table = document.getElementById("events");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (msg) => {
  const e = JSON.parse(msg.data);
  const row = table.insertRow(1);
  const detail = e.kind ? e.kind + ": " + e.message : (e.warnings || []).join("; ");
  [new Date(e.timestamp).toLocaleTimeString(), e.eventType, e.jobId || "", e.filename,
   e.noteCount || "", detail].forEach((v) => { row.insertCell().textContent = v; });
};
</script>
</body>
</html>
`

func decodeEvent(value []byte) (ConversionEvent, error) {
	var event ConversionEvent
	err := json.Unmarshal(value, &event)
	return event, err
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string) {
	// Use partition reader without consumer group (works better through port-forward)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Warn().Err(err).Msg("Could not seek to the last hour, reading from the start")
	}

	log.Info().Str("topic", topic).Msg("Consuming from Kafka topic partition 0 (last hour)")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		event, err := decodeEvent(msg.Value)
		if err != nil {
			log.Error().Err(err).Msg("JSON unmarshal error")
			continue
		}

		log.Info().
			Str("eventType", event.EventType).
			Str("jobId", event.JobID).
			Str("filename", event.Filename).
			Msg("Received event")
		hub.broadcast <- event
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "notation.conversion.events", "Conversion events topic")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	hub := newHub()
	go hub.run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumeKafka(ctx, hub, *brokers, *topic)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	mux.HandleFunc("/ws", wsHandler(hub))

	log.Info().
		Str("addr", "http://localhost:"+*port).
		Str("brokers", *brokers).
		Str("topic", *topic).
		Msg("Event viewer starting")

	if err := http.ListenAndServe(":"+*port, mux); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}
