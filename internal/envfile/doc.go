// Package envfile reads the per-bundle environment files that are shipped to
// a deployed agent as runtime environment variables.
//
// The format is the usual KEY=VALUE dialect with an optional "export " prefix,
// "#" comments (whole-line or trailing) and matching single or double quotes
// around the value. Keys that the hosting platform sets itself are dropped so
// a bundle can never override them.
package envfile
