// Package config loads historykit runtime configuration. Default() is the
// baseline; Load overlays a JSON or YAML file and FromEnv overlays
// HISTORYKIT_* variables.
//
//	cfg, err := config.Load("/etc/historykit.yaml")
//	if err != nil { ... }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { ... }
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
package config
