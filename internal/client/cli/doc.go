// Package cli provides the interactive tradepost command-line client.
//
// It wires configuration, the sealed credential store, the API pipeline and
// the session, listing, draft, favorite and inbox services behind a REPL.
// Typical flow: resume a stored session or prompt for credentials, browse
// the feed, edit drafts and follow conversations while the inbox polls in
// the background.
//
// Key features:
//   - Signup / Login / Logout with transparent token refresh
//   - Feed, search and listing details with favorite markers
//   - Draft editing, image upload and publishing
//   - Inbox with live conversation and message updates
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
