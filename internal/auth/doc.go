// Package auth signs and reads the console's browser session cookie.
//
// The cookie carries an HS256 JWT whose "sub" claim is the session id issued
// by the session store. The cookie only ties a browser to its in-memory
// state; it grants no privileges and there are no user accounts.
//
// Handlers read the verified id with SessionIDFromContext after the
// SessionCookie middleware has run.
package auth
