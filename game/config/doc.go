// Package config provides configuration loading for the kart race server.
//
// The config package handles:
//   - Built-in defaults for every tunable
//   - An optional JSON configuration file
//   - A .env file and KART_* environment variables
//   - Validation of the merged result
//
// Configuration Format:
//
// The JSON file uses the same keys as the Config struct tags. Durations are
// strings accepted by time.ParseDuration:
//
//	{
//	  "listen_addr": ":5000",
//	  "liveness_timeout": "2m",
//	  "store_driver": "sqlite3",
//	  "store_dsn": "kartrace.db"
//	}
//
// Precedence:
//
// Defaults < JSON file < .env file < process environment. Command line flags
// are applied by the caller after Load returns, followed by Validate.
//
// Usage:
//
//	cfg, err := config.Load("kartrace.json")
//	if err != nil {
//		log.Fatal(err)
//	}
package config
