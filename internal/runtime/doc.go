// Package runtime talks to the hosted agent runtime (Vertex AI Agent Engine
// reasoning engines) over its REST API.
//
// # Usage
//
// Every action starts with Init, which binds a project and location, checks
// that credentials can be refreshed and that the location answers, and
// returns an Engines handle for that target:
//
//	engines, err := client.Init(ctx, runtime.Target{Project: "p", Location: "us-central1"})
//	if err != nil {
//	    switch runtime.KindOf(err) { ... }
//	}
//	resources, err := engines.List(ctx)
//
// Create, Update and Delete start long-running operations that are polled
// until done. There is no overall deadline; cancel the context to stop
// waiting (the remote operation itself keeps running).
//
// # Errors
//
// Remote failures are returned as *Error tagged with a Kind so callers can
// pick a user-facing message without parsing text. No call is retried.
package runtime
