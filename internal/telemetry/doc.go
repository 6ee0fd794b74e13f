// Package telemetry writes motion core measurements to InfluxDB.
//
// Measurements:
//
//	channel_position   tags: channel, controller        fields: position
//	engine             tags: controller                 fields: generation, executions, safety_state, violations
//	execution          tags: sequence, origin, event    fields: priority, channels, duration_ms
//	safety_transition  tags: from, to                   fields: violations
package telemetry
