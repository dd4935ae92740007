// Package tokenstore owns the persisted session: the access token, the refresh
// token and the cached user profile.
//
// All three entries are written through a single storage.Store transaction, so
// other components only ever read a consistent snapshot. Reads never fail: a
// missing, corrupt or undecryptable entry reads as absent. IsExpired decodes the
// token's exp claim without verifying the signature; the backend remains the
// authority on validity and the client only uses expiry to decide whether it
// looks logged in.
package tokenstore
