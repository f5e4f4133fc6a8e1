// Package webadmin provides the browser console for the agent lifecycle.
//
// # Overview
//
// The console is a single page with one tab per pipeline:
//
//   - Agent Engines: list deployed agents
//   - Deploy / Update / Destroy: manage agent engines
//   - Test Chat: talk to a deployed agent
//   - Register / Deregister: manage Agentspace registrations
//   - Authorizations: manage OAuth authorizations for registered agents
//
// Activity and Help are separate pages.
//
// # Sessions
//
// Every request carries a signed session cookie (see package auth). The
// session holds the target, fetched lists, selections and the chat
// transcript; nothing is shared between browsers.
//
// # Running pipelines
//
// Form posts made by htmx start the pipeline in the background and return
// 202 with a status fragment. Progress arrives over GET /console/events as
// server-sent events:
//
//	event: progress
//	data: {"action":"deploy","phase":"in-flight","message":"...","elapsed_ms":4000,"terminal":false,"ok":false}
//
// Per-item results of batch actions use "event: item". When a terminal
// event arrives the page reloads the current tab. Without JavaScript the
// same forms run the pipeline synchronously and redirect back to the tab.
//
// # CSRF Protection
//
// All state-changing forms carry a CSRF token, either as the csrf_token
// form field or the X-CSRF-Token header.
package webadmin
