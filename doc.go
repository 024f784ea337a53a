// Package petauth is an embeddable authentication engine for services with
// local and social sign-in: argon2id password credentials with brute-force
// lockout, HS256 access/refresh tokens with one-time-use refresh rotation
// and replay detection, OAuth identity reconciliation, and SMS-verified
// find-id and password-reset flows.
//
// State lives in Redis through the bundled stores (or any implementation of
// the store contracts), so multiple engine instances can serve the same
// account population. Build an engine with the Builder:
//
//	engine, err := petauth.New().
//		WithRedis(client).
//		WithConfig(cfg).
//		WithSmsSender(sender).
//		WithProviderClient(account.ProviderGoogle, googleClient).
//		Build()
//
// All engine operations are safe for concurrent use.
package petauth
