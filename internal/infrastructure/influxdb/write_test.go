package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestStatePoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	p := statePoint("1a2b3c", map[string]interface{}{"battery": 87, "state": 8}, ts)
	line := write.PointToLineProtocol(p, time.Second)

	for _, want := range []string{
		"vacuum_state,duid=1a2b3c ",
		"battery=87i",
		"state=8i",
		" 1700000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q does not contain %q", line, want)
		}
	}
}

func TestLinkPoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	tests := []struct {
		name      string
		duid      string
		transport string
		connected bool
		want      []string
		notWant   string
	}{
		{
			name:      "local device connected",
			duid:      "1a2b3c",
			transport: "local",
			connected: true,
			want:      []string{"vacuum_link,", "duid=1a2b3c", "transport=local", "connected=true"},
		},
		{
			name:      "cloud account disconnected",
			transport: "cloud",
			want:      []string{"vacuum_link,", "transport=cloud", "connected=false"},
			notWant:   "duid=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(linkPoint(tt.duid, tt.transport, tt.connected, ts), time.Second)
			for _, want := range tt.want {
				if !strings.Contains(line, want) {
					t.Errorf("line %q does not contain %q", line, want)
				}
			}
			if tt.notWant != "" && strings.Contains(line, tt.notWant) {
				t.Errorf("line %q contains %q", line, tt.notWant)
			}
		})
	}
}

func TestWritesOnDisconnectedClient(t *testing.T) {
	c := &Client{now: time.Now}

	c.WriteState("1a2b3c", map[string]interface{}{"battery": 50})
	c.WriteLinkEvent("1a2b3c", "local", true)
	c.Flush()

	if got := c.PointsWritten(); got != 0 {
		t.Errorf("PointsWritten() = %d, want 0", got)
	}
}
