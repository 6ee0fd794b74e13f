// Package influxdb provides InfluxDB connectivity for motion telemetry.
//
// It wraps influxdb-client-go v2 with a batched, non-blocking write API so
// that telemetry never delays the control loop. Measurement names and
// field layout live in the telemetry package; this package only moves
// points.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	client.WritePoint("safety_state", map[string]string{"state": "WARNING"}, map[string]any{"violations": 1})
package influxdb
