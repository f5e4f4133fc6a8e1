// Package discovery is a REST client for the Discovery Engine (Agentspace)
// APIs used to expose deployed agents to end users.
//
// It covers four surfaces:
//
//   - app discovery: engines on the search-and-assistant tier
//   - agent registration (V2): one agent resource per registration under an
//     app's default assistant
//   - legacy registration: the agentConfigs list stored on the assistant,
//     rewritten wholesale on every change
//   - OAuth authorizations at the global location
//
// Callers pass a bearer token to every call; the client never obtains or
// refreshes credentials itself. Requests have a fixed timeout and are never
// retried. Each request is logged with a request_id; headers and bodies are
// never logged.
package discovery
