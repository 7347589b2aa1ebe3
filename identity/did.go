package identity

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// DIDPrefix starts every identifier this system derives.
const DIDPrefix = "did:cid:"

// DeriveDID computes the content-addressed identifier for a node key:
// sha2-256 over the raw compressed key (plus a big-endian generation
// counter for reprovisioned identities), wrapped as a CIDv1 raw block and
// rendered in lower-case base32 multibase. Any verifier can recompute it
// from the public key and generation alone.
func DeriveDID(nodePubkey string, generation int64) (string, error) {
	raw, err := hex.DecodeString(nodePubkey)
	if err != nil {
		return "", fmt.Errorf("malformed node pubkey: %w", err)
	}

	material := raw
	if generation > 1 {
		var gen [8]byte
		binary.BigEndian.PutUint64(gen[:], uint64(generation))
		material = append(append([]byte{}, raw...), gen[:]...)
	}

	mh, err := multihash.Sum(material, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to hash identifier material: %w", err)
	}

	return DIDPrefix + cid.NewCidV1(cid.Raw, mh).String(), nil
}
