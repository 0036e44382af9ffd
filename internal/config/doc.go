/*
Package config assembles the drivefs configuration tree from defaults, an
optional YAML file, and DRIVEFS_* environment variables.

# Precedence

Later sources override earlier ones:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│            (DRIVEFS_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)               │
	└─────────────────────────────────────────────┘

CLI flags sit above all three; the mount command applies them to the
loaded tree before Validate.

# Structure

The tree reuses the Config types of the packages it feeds (mount.Options,
cache.Config, buffer.Config, circuit.Config, s3.Config, api.ServerConfig),
so a loaded file is handed to those packages without translation:

	logging:
	  level: info
	  format: text
	mount:
	  allow_other: false
	  attr_timeout: 1s
	drive:
	  backend: s3
	  s3:
	    bucket: my-bucket
	    prefix: data/
	    region: us-west-2
	cache:
	  max_size: 268435456
	  ttl: 5m
	buffer:
	  flush_interval: 30s
	api:
	  enabled: true
	  address: localhost:8080

# Usage

	cfg, err := config.Load("/etc/drivefs/config.yaml")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	closer, err := cfg.Logging.Apply(log.StandardLogger())
*/
package config
