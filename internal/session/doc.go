// Package session holds per-browser-connection console state: what the
// operator selected, what was last fetched from the cloud, the test-chat
// session and which actions are currently running.
//
// State lives only in memory. A Store hands out one *State per session id
// and forgets it after a period of inactivity. Nothing is shared between
// sessions.
package session
