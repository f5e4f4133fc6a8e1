// Package server assembles the agent console process.
//
// New builds the activity store, the session store, the progress
// broadcaster, the metrics registry, the lifecycle orchestrator and the web
// console from configuration plus the remote clients passed in Deps, and
// mounts them on one HTTP mux:
//
//	GET /health         liveness
//	GET /health/ready   503 until the catalogue has a deployable agent
//	GET /metrics        Prometheus metrics (metrics.enabled)
//	/console/...        the web console
//
// Run listens on server.http_addr, or joins a tailnet with tsnet when
// tailscale.enabled is set (serving HTTPS on :443 with the tailnet
// certificate when tailscale.https is set). Shutdown stops the listener,
// waits for running pipelines to record their outcome, then closes the
// store and the tailnet node.
package server
