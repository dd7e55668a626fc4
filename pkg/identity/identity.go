// Package identity derives the node's stable peer identity from the
// account it belongs to. The same account always yields the same
// identity, across restarts and reinstalls, so a peer's identifier can
// be shared once and stays valid.
package identity

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/hkdf"
)

const derivationInfo = "auracord/peer-identity/1"

var ErrEmptyAccountID = errors.New("account id must not be empty")

// Identity bundles the derived key material and the peer id it maps to.
type Identity struct {
	PrivKey crypto.PrivKey
	PeerID  peer.ID
}

// Derive produces the deterministic ed25519 identity for an account.
// HKDF-SHA256 stretches the account id into the ed25519 seed; the peer
// id is the canonical string form of the resulting public key.
func Derive(accountID string) (*Identity, error) {
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}

	seed := make([]byte, 32)
	reader := hkdf.New(sha256.New, []byte(accountID), nil, []byte(derivationInfo))
	if _, err := reader.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to derive identity seed: %w", err)
	}

	priv, _, err := crypto.GenerateEd25519Key(bytes.NewReader(seed))
	if err != nil {
		return nil, fmt.Errorf("failed to build identity key: %w", err)
	}

	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer id: %w", err)
	}

	return &Identity{PrivKey: priv, PeerID: id}, nil
}

// String returns the identity's opaque peer identifier.
func (i *Identity) String() string {
	return i.PeerID.String()
}
