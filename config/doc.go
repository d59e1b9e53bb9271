// Package config loads and validates the SignalStream application
// configuration.
//
// Configuration is layered JSON. A load starts from built-in defaults,
// merges each file layer in order (later layers win, nested sections
// merge key by key), then applies SIGNALSTREAM_* environment overrides.
// The merged result is validated before it is returned.
//
// Duration fields accept Go duration strings in JSON:
//
//	{
//	  "monitor": {
//	    "interval": "30s",
//	    "retry_delay": "5s"
//	  }
//	}
//
// Typical use:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config.json")
//	loader.AddLayer("config.local.json")
//	cfg, err := loader.Load()
//
// Environment overrides cover deployment-varying values: broker URLs and
// credentials (SIGNALSTREAM_NATS_URLS, SIGNALSTREAM_NATS_TOKEN, ...),
// the analysis endpoint (SIGNALSTREAM_ANALYSIS_BASE_URL,
// SIGNALSTREAM_ANALYSIS_API_KEY, SIGNALSTREAM_ANALYSIS_MODEL), and the
// metrics port (SIGNALSTREAM_METRICS_PORT).
//
// Config.String() redacts credentials and is safe to log.
package config
