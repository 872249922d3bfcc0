// Package runtime wires configuration, storage, and metrics into a single
// historykit process. It opens the configured history backend and timestamp
// store, shares one metrics collector between them, and builds kits over
// the result.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Kit.CurrentAuthor = "a"
//	cfg.Kit.Authors = []string{"a", "b"}
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
//	k, _ := rt.NewKit(runtime.KitOptions{Contexts: []kit.Context{kit.NewReplica("main")}, AutoStart: true})
//	defer k.Close()
package runtime
