// Package kitrun exposes the shared Run entrypoint the CLI uses to keep a
// kit merging a history until the process is interrupted. It opens the
// runtime, starts the kit, serves metrics when configured, and shuts
// everything down in order.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Kit.CurrentAuthor = "a"
//	cfg.Kit.Authors = []string{"a", "b"}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = kitrun.Run(ctx, kitrun.Options{Config: cfg})
package kitrun
