// Package gcpauth supplies Google Cloud credentials to the console.
//
// Tokens come from Application Default Credentials and are refreshed on
// every call; nothing is cached between calls, so a revoked or expired
// credential fails the next action immediately instead of at some later
// refresh. The package also reports which principal the credentials belong
// to and resolves project ids to project numbers through Cloud Resource
// Manager.
package gcpauth
