// Package config loads and validates the relay configuration.
//
// Configuration is assembled in layers: the built-in defaults from Default,
// then each file added with AddLayer (JSON or YAML, chosen by extension), then
// SMOOTHBUS_* environment variables. Layers are merged as documents, so a
// layer only overrides the keys it sets:
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/smoothbus/base.yaml")
//	loader.AddLayer("/etc/smoothbus/site.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// With validation enabled the merged document is checked against the embedded
// JSON schema (see Schema) and the decoded Config against Validate, which also
// rejects subject prefixes that overlap each other. Both report errors that
// wrap errors.ErrInvalidConfig.
//
// # Environment
//
//	SMOOTHBUS_MODE                  proxy | function
//	SMOOTHBUS_INSTANCE              instance id
//	SMOOTHBUS_NATS_URLS             comma separated server list
//	SMOOTHBUS_NATS_USERNAME         credentials
//	SMOOTHBUS_NATS_PASSWORD
//	SMOOTHBUS_NATS_TOKEN
//	SMOOTHBUS_INBOUND               subject prefixes
//	SMOOTHBUS_OUTBOUND
//	SMOOTHBUS_COMMANDS
//	SMOOTHBUS_STRATEGY              smoothing strategy
//	SMOOTHBUS_CONFIDENCE_THRESHOLD
//	SMOOTHBUS_PER_TOPIC_HISTORY
//	SMOOTHBUS_PARAMS_PERSIST
//	SMOOTHBUS_METRICS_PORT
package config
