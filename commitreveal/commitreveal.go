/*
Package commitreveal binds a secret to a public digest now and proves it later.

	digest = H(secret || salt)

The salt is 32 random bytes so short secrets cannot be brute forced from the
digest. H is one of the hashes a covenant script can evaluate on-chain.
*/
package commitreveal

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // HASH160 is consensus
)

var ErrCommitmentMismatch = errors.New("commitment mismatch")

const SaltSize = 32

type HashKind uint8

const (
	SHA256  HashKind = 1 // OP_SHA256
	HASH256 HashKind = 2 // OP_HASH256, double SHA256
	HASH160 HashKind = 3 // OP_HASH160, RIPEMD160(SHA256)
)

func (k HashKind) String() string {
	switch k {
	case SHA256:
		return "sha256"
	case HASH256:
		return "hash256"
	case HASH160:
		return "hash160"
	default:
		return fmt.Sprintf("hash(%d)", uint8(k))
	}
}

func Hash(kind HashKind, data []byte) ([]byte, error) {
	switch kind {
	case SHA256:
		h := sha256.Sum256(data)
		return h[:], nil
	case HASH256:
		return chainhash.DoubleHashB(data), nil
	case HASH160:
		h := sha256.Sum256(data)
		r := ripemd160.New()
		r.Write(h[:])
		return r.Sum(nil), nil
	default:
		return nil, fmt.Errorf("unsupported hash kind %d", uint8(kind))
	}
}

// Commitment is what the committer keeps. Only Kind and Digest are public.
type Commitment struct {
	Kind   HashKind
	Digest []byte
	Secret []byte
	Salt   []byte
}

// Commit commits to secret with HASH256 and a fresh salt.
func Commit(secret []byte) (*Commitment, error) {
	return CommitWith(HASH256, secret, rand.Reader)
}

func CommitWith(kind HashKind, secret []byte, rnd io.Reader) (*Commitment, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rnd, salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	digest, err := Hash(kind, join(secret, salt))
	if err != nil {
		return nil, err
	}
	return &Commitment{
		Kind:   kind,
		Digest: digest,
		Secret: append([]byte{}, secret...),
		Salt:   salt,
	}, nil
}

// Public strips the secret and salt.
func (c *Commitment) Public() *Commitment {
	return &Commitment{Kind: c.Kind, Digest: append([]byte{}, c.Digest...)}
}

// Reveal reports whether secret and salt open the commitment.
func Reveal(c *Commitment, secret, salt []byte) bool {
	return Verify(c.Kind, c.Digest, secret, salt) == nil
}

// Verify is Reveal with an error, for callers that propagate the mismatch.
func Verify(kind HashKind, digest, secret, salt []byte) error {
	got, err := Hash(kind, join(secret, salt))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, digest) {
		return ErrCommitmentMismatch
	}
	return nil
}

func join(secret, salt []byte) []byte {
	b := make([]byte, 0, len(secret)+len(salt))
	b = append(b, secret...)
	return append(b, salt...)
}
