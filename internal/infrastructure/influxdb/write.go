package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	// MeasurementState holds device-reported values such as battery level,
	// state code and error code, one field per value.
	MeasurementState = "vacuum_state"

	// MeasurementLink records transport connect and disconnect events.
	MeasurementLink = "vacuum_link"
)

// statePoint builds a vacuum_state point tagged with the device id.
func statePoint(duid string, fields map[string]interface{}, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementState, map[string]string{"duid": duid}, fields, ts)
}

// linkPoint builds a vacuum_link point. duid is empty for the account-wide
// cloud transport.
func linkPoint(duid, transport string, connected bool, ts time.Time) *write.Point {
	tags := map[string]string{"transport": transport}
	if duid != "" {
		tags["duid"] = duid
	}
	return write.NewPoint(MeasurementLink, tags, map[string]interface{}{"connected": connected}, ts)
}

// WriteState records device-reported values. Empty field sets are ignored.
//
// Example:
//
//	client.WriteState("1a2b3c", map[string]interface{}{"battery": 87, "state": 8})
func (c *Client) WriteState(duid string, fields map[string]interface{}) {
	if len(fields) == 0 || !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statePoint(duid, fields, c.now()))
	c.pointsWritten.Add(1)
}

// WriteLinkEvent records a transport connecting or disconnecting.
func (c *Client) WriteLinkEvent(duid, transport string, connected bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(linkPoint(duid, transport, connected, c.now()))
	c.pointsWritten.Add(1)
}
