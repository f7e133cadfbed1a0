// Package gate is the thin orchestrator in front of the engine: it
// sequences decode, hybrid signature verification, policy authorization,
// ratchet encryption or decryption, and hand-off to the transport
// collaborator. A denied or forged message never reaches application
// plaintext.
package gate
