package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint writes one point stamped with the current time.
//
//	client.WritePoint("channel_position",
//	    map[string]string{"channel": "DOME"},
//	    map[string]any{"position": 120.0})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointAt(measurement, tags, fields, time.Now())
}

// WritePointAt writes one point with an explicit timestamp. Telemetry from
// the control loop is stamped with the tick time, not the write time.
func (c *Client) WritePointAt(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
	c.written.Add(1)
}
