// Package mqtt provides MQTT client connectivity for the Gray Motion core.
//
// MQTT connects the core to everything outside the control loop:
//
//	servo controller bridges  <- graymotion/servo/{controller}/{index}/set
//	effects players           <- graymotion/effects/{kind}
//	vision pipeline           -> graymotion/vision/events
//	sensor/health publishers  -> graymotion/metrics/{metric}
//	controller bridges        -> graymotion/controller/{id}/health
//
// Three publish flavours exist. Publish waits with a default timeout.
// PublishContext waits until the caller's deadline and is used for servo
// writes, which must finish inside a control tick. PublishAsync does not
// wait at all and is used for effect triggers.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials should come from GRAYMOTION_MQTT_USERNAME/PASSWORD
package mqtt
