package main

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"audio-notation-service/internal/models"
)

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := newHub()
	go hub.run()

	srv := httptest.NewServer(wsHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.count() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.count())
	}

	hub.broadcast <- ConversionEvent{EventType: models.EventConversionCompleted, JobID: "abc", NoteCount: 7}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got ConversionEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.JobID != "abc" || got.NoteCount != 7 {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestDecodeEvent(t *testing.T) {
	completed, _ := json.Marshal(models.ConversionCompleted{
		EventType: models.EventConversionCompleted,
		JobID:     "job-1",
		Filename:  "take.wav",
		NoteCount: 25,
		TempoBPM:  96,
		Warnings:  []string{"short"},
	})
	failed, _ := json.Marshal(models.ConversionFailed{
		EventType: models.EventConversionFailed,
		Filename:  "take.ogg",
		Kind:      "unsupported_format",
		Message:   "only WAV input can be converted on this server",
	})

	ev, err := decodeEvent(completed)
	if err != nil {
		t.Fatal(err)
	}
	if ev.JobID != "job-1" || ev.NoteCount != 25 || ev.TempoBPM != 96 || len(ev.Warnings) != 1 {
		t.Errorf("unexpected completed event %+v", ev)
	}

	ev, err = decodeEvent(failed)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != "unsupported_format" || ev.JobID != "" || ev.Message == "" {
		t.Errorf("unexpected failed event %+v", ev)
	}

	if _, err := decodeEvent([]byte("{")); err == nil {
		t.Error("expected error for malformed event")
	}
}
