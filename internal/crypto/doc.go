// Package crypto implements the authenticated envelope encryption used for
// stored server credentials.
//
// # Envelope
//
// Every encryption produces an EncryptedData value holding the ciphertext,
// a per-call random nonce, the authentication tag, the algorithm name and a
// format version. The version selects algorithm parameters on decryption so
// stored data keeps working after the default algorithm changes:
//
//   - version 1: AES-256-GCM (12-byte nonce, 16-byte tag)
//   - version 2: ChaCha20-Poly1305 (12-byte nonce, 16-byte tag)
//
// # Failure model
//
// Decryption fails closed. A wrong key, a flipped bit, a truncated field or a
// malformed encoding all return ErrDecryptionFailed and nothing else.
//
// # Keys
//
// The Engine holds the master key, loaded once at startup (see LoadMasterKey)
// and never mutated. Engines are safe for concurrent use.
package crypto
