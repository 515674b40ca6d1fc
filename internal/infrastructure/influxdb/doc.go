// Package influxdb writes vacuum telemetry to InfluxDB v2.
//
// The bridge records two measurements:
//   - vacuum_state: values the device pushes or returns (battery, state
//     code, error code, fan power, water box mode), tagged by duid
//   - vacuum_link: transport connect/disconnect events, tagged by
//     transport and, for local sockets, duid
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteState(duid, map[string]interface{}{"battery": 87})
//
// Writes are non-blocking and batched per the batch_size and
// flush_interval settings. Write failures are delivered to SetOnError.
package influxdb
