// Package httpserver serves the operational endpoints of a running kit:
// store health, kit status with per-author timestamps, and Prometheus
// metrics. It carries no history read or write surface.
//
// Example:
//
//	s := httpserver.New(rt, k, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":9090")
package httpserver
