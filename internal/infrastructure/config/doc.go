// Package config handles loading and validating Gray Motion configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and timing relationships
//   - Default value handling
//
// Timing defaults follow the control loop: a 20ms tick, a 200ms arbitration
// timeout, and a hardware write timeout small enough that one write plus its
// retry still fits inside a tick.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The JWT secret gates emergency stop reset and must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Motion.TickInterval)
package config
