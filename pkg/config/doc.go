/*
Package config loads the console configuration.

Values come from three layers, later ones winning:

	built-in defaults  ->  YAML file (--config)  ->  SWMS_* environment

The command line applies a fourth layer of flags on top. Recognised
environment variables:

	SWMS_API_BASE_URL   REST API base URL
	SWMS_HUB_URL        notification hub URL
	SWMS_STORE          bolt | redis | memory
	SWMS_DATA_DIR       directory for the bolt store
	SWMS_REDIS_ADDR     redis address for the redis store
	SWMS_LOG_LEVEL      debug | info | warn | error
	SWMS_SECRET         passphrase sealing persisted tokens
	SWMS_CA_FILE        PEM roots to trust, e.g. from swms-devbackend --tls

Example file:

	apiBaseUrl: https://swms.example.com
	hubUrl: https://swms.example.com/hubs/notification
	requestTimeout: 30s
	store: bolt
	dataDir: /home/me/.swms
*/
package config
