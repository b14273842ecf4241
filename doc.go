// Package auth is the core of the authorization microservice: account
// registration, credential verification, session token issuance, TOTP
// two-factor login, and the password-reset flow.
//
// The [Engine] carries all of it and is assembled through a [Builder]:
//
//	engine, err := auth.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithStore(store).
//		WithNotifier(notifier).
//		Build()
//
// User records live behind the [CredentialStore] interface; see the
// store/postgres and store/memory packages for implementations. The
// httpapi package serves the engine over HTTP and the bus package answers
// asynchronous token-validation requests from peer services.
package auth
