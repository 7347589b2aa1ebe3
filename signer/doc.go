/*
Package signer defines the signing oracle interface and signature
verification used for attestations and ballots.

All signing is delegated: implementations never expose private key
material. Two implementations exist - the lightning package delegates to
the host node's HSM over RPC, and LocalSigner keeps an in-process key for
tests and standalone runs.

Signatures are compact recoverable ECDSA over a sha256 digest of the
payload, hex encoded, so any verifier holding the payload and the claimed
compressed pubkey can check them without a registry lookup.
*/
package signer
