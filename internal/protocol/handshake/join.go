package handshake

import (
	"crypto/hmac"
	"fmt"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/protocol/tree"
	"conclave/internal/protocol/wire"
	"conclave/internal/util/memzero"
)

// Join enters the group a welcome admits us to. initPriv is the retained
// private half of the key package the welcome was built on; it becomes the
// joiner's leaf key. The returned state is trusted only because the
// confirmation tag recomputed from the unsealed joiner secret matches the
// committer's.
func Join(w domain.Welcome, id domain.Identity, initPriv domain.X25519Private) (*tree.State, error) {
	if w.GroupID.IsZero() {
		return nil, fmt.Errorf("%w: zero group id", domain.ErrInvalidWelcome)
	}
	if len(w.Leaves) == 0 || int(w.JoinerLeaf) >= len(w.Leaves) || int(w.CommitterLeaf) >= len(w.Leaves) {
		return nil, fmt.Errorf("%w: leaf indices out of range", domain.ErrInvalidWelcome)
	}
	if w.JoinerLeaf == w.CommitterLeaf {
		return nil, fmt.Errorf("%w: joiner and committer coincide", domain.ErrInvalidWelcome)
	}
	if w.Sealed.Recipient != w.JoinerLeaf {
		return nil, fmt.Errorf("%w: sealed secret addressed to leaf %d", domain.ErrInvalidWelcome, w.Sealed.Recipient)
	}

	joiner := w.Leaves[w.JoinerLeaf]
	if !joiner.Active || joiner.SignatureKey != id.EdPub {
		return nil, fmt.Errorf("%w: not addressed to this identity", domain.ErrInvalidWelcome)
	}
	initPub, err := crypto.PublicOf(initPriv)
	if err != nil {
		return nil, fmt.Errorf("%w: init key: %v", domain.ErrCryptoFailure, err)
	}
	if joiner.EncryptionKey != initPub {
		return nil, fmt.Errorf("%w: leaf key differs from key package", domain.ErrInvalidWelcome)
	}

	committer := w.Leaves[w.CommitterLeaf]
	if !committer.Active {
		return nil, fmt.Errorf("%w: committer leaf %d not active", domain.ErrInvalidWelcome, w.CommitterLeaf)
	}
	if !crypto.VerifyEd25519(committer.SignatureKey, wire.WelcomeTBS(w), w.Signature) {
		return nil, fmt.Errorf("%w: bad signature", domain.ErrInvalidWelcome)
	}

	joinerSecret, err := crypto.OpenFrom(initPriv, w.Sealed.Ephemeral, w.Sealed.Box,
		sealContext(purposeWelcome, w.GroupID, w.Epoch, w.JoinerLeaf))
	if err != nil {
		return nil, fmt.Errorf("%w: unseal joiner secret: %v", domain.ErrInvalidWelcome, err)
	}
	defer memzero.Zero(joinerSecret)

	st, err := tree.FromJoin(w.GroupID, w.Epoch, w.Leaves, w.JoinerLeaf, initPriv, joinerSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWelcome, err)
	}
	if !hmac.Equal(st.ConfirmationTag(), w.ConfirmationTag) {
		return nil, fmt.Errorf("%w: confirmation tag mismatch", domain.ErrInvalidWelcome)
	}
	return st, nil
}
