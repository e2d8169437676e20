// Package auth implements the multi-tenant authentication core: the OAuth
// authorization-code flow against Google, API key issuance, and transparent
// access token refresh on top of the credential store.
package auth
