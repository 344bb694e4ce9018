// Package config handles loading and validating vdba configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Converting connection entries into vdba.ConnectionConfig values
//
// Security Considerations:
//   - DSNs, tokens and passwords should be set via environment variables
//     (VDBA_CONN_<NAME>_<OPTION>, VDBA_MQTT_PASSWORD)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/vdba.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	conns, err := cfg.ConnectionConfigs()
package config
