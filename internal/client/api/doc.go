// Package api talks to the marketplace HTTP API.
//
// Pipeline issues every call: it attaches the access token, and on a 401 it
// refreshes the credential pair once and re-issues the call once. Client
// layers one typed method per endpoint on top of it.
package api
