package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ramory-l/wsrooms/relay"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		room    string
		event   string
		payload string
		wantErr bool
	}{
		{line: "lobby chat hello world", room: "lobby", event: "chat", payload: "hello world"},
		{line: "root ping", room: "root", event: "ping"},
		{line: "  lobby  chat  ", wantErr: true},
		{line: "lobby", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			room, event, payload, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.room, room)
			assert.Equal(t, tt.event, event)
			assert.Equal(t, tt.payload, payload)
		})
	}
}

func TestPrinterFormats(t *testing.T) {
	rec := eventRecord{
		Time:    time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		Room:    "lobby",
		Event:   "chat",
		Source:  "peer-1",
		Payload: "hi",
	}

	var buf bytes.Buffer
	p, err := newPrinter(&buf, formatText)
	require.NoError(t, err)
	require.NoError(t, p.Print(rec))
	assert.Equal(t, "12:30:00 [lobby] chat from peer-1: hi\n", buf.String())

	buf.Reset()
	p, err = newPrinter(&buf, formatJSON)
	require.NoError(t, err)
	require.NoError(t, p.Print(rec))
	var decoded eventRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, rec, decoded)

	buf.Reset()
	p, err = newPrinter(&buf, formatYAML)
	require.NoError(t, err)
	require.NoError(t, p.Print(rec))
	require.NoError(t, p.Print(rec))
	assert.Equal(t, 2, strings.Count(buf.String(), "---\n"))

	docs := yaml.NewDecoder(&buf)
	decoded = eventRecord{}
	require.NoError(t, docs.Decode(&decoded))
	assert.Equal(t, rec, decoded)

	_, err = newPrinter(&buf, "xml")
	assert.Error(t, err)
}

func TestEventRecordStringOmitsEmptyParts(t *testing.T) {
	rec := eventRecord{Time: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), Room: "root", Event: "close"}
	assert.Equal(t, "08:00:00 [root] close", rec.String())
}

func TestGetStats(t *testing.T) {
	want := relay.Stats{NumRooms: 2, NumPeers: 3, MaxPeers: 5, FramesRelayed: 42}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(want)
	}))
	defer ts.Close()

	got, err := getStats(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, want.NumRooms, got.NumRooms)
	assert.Equal(t, want.NumPeers, got.NumPeers)
	assert.Equal(t, want.FramesRelayed, got.FramesRelayed)

	text := statsView{Stats: got, Source: ts.URL}.String()
	assert.Contains(t, text, "Number of peers: 3")
	assert.Contains(t, text, "Frames relayed: 42")
}

func TestGetStatsHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := getStats(ts.URL)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "wsrooms version unset\n", buf.String())
}
