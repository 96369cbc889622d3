// Package tokenstore provides persistent key-value storage for OAuth token material.
//
// The token manager keeps two well-known entries: the serialized token record
// (KeyTokenDetails) and the bare access token used for fast reads (KeyToken).
// Three backends are available with different security and deployment tradeoffs:
//   - File: one file per key in a private directory, atomic writes, 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Memory: process-local storage for tests and ephemeral deployments
//
// Entries outlive the process for the file and keyring backends; there is no teardown.
package tokenstore
