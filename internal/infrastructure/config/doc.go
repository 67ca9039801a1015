// Package config handles loading and validating GeoModel Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GEOMODEL_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The table section decides which transport the controller uses and how
// datagrams are encoded:
//
//	table:
//	  transport: udp        # udp, serial, loopback
//	  codec: text           # text, proto, cbor
//	  status_policy: force_ok
//	  udp:
//	    host: 10.0.8.200
//	    port: 4000
//	    idle_timeout: 10s
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
