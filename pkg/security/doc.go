/*
Package security provides the cryptography around the console's local state
and the development backend's transport.

# Sealer

Sealer encrypts values before they reach a storage backend. It uses
AES-256-GCM with a random 12-byte nonce prepended to each ciphertext:

	┌──────────────┬───────────────────────────────┐
	│ nonce (12 B) │ ciphertext + GCM tag (16 B)   │
	└──────────────┴───────────────────────────────┘

A passphrase (SWMS_SECRET) is stretched to a 32-byte key with argon2id.
The token store seals the access token, refresh token and cached profile
when a secret is configured; a value sealed under a different key opens
as an error and the token store treats it as absent.

# Development CA

CertAuthority issues ECDSA P-256 serving certificates for
swms-devbackend --tls:

	┌───────────────────────────┐
	│ SWMS Development Root CA  │  5 years, persisted sealed in a
	└─────────────┬─────────────┘  storage.Store when one is given
	              │ signs
	              ▼
	┌───────────────────────────┐
	│ server cert               │  90 days, localhost / 127.0.0.1 / ::1
	└───────────────────────────┘

The root is written as PEM for clients; ClientTLSConfig turns that file
into a tls.Config used by both the REST client and the websocket dialer.
*/
package security
