// Package config handles loading and validating the Roborock bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Account secrets and local keys should be set via environment variables
//     or a config file with restricted permissions (0600)
//   - AccountConfig and DeviceConfig mask secrets in String and JSON output
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.ID)
package config
