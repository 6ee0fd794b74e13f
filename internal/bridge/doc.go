// Package bridge connects the motion core to its MQTT collaborators.
//
// Outbound, Hardware turns channel writes into servo set messages and
// Effects turns step triggers into audio and lighting messages. Inbound,
// Inbound maps vision events to catalog sequences, feeds metric readings
// into the alert throttle, and converts controller health reports into
// controller_offline violations.
//
// Topics:
//
//	graymotion/servo/{controller}/{index}/set   core → controller
//	graymotion/effects/{kind}                   core → effects player
//	graymotion/vision/events                    vision → core
//	graymotion/metrics/{metric}                 monitors → core
//	graymotion/controller/{id}/health           controller → core
package bridge
