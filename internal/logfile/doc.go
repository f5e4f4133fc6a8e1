// Package logfile is an append-only log file that rotates at local midnight.
//
// The active file keeps the configured name; at the first write of a new day
// it is renamed with the previous day's date (console.log becomes
// console.2026-03-01.log) and the oldest dated files beyond Keep are removed.
package logfile
