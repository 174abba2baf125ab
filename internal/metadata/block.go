package metadata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/crypto/box"
	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/model"
)

// BlockFormat is the version of the block file header.
const BlockFormat = 1

const (
	infoBlockKey = "gophstore/metadata/block-key/v1"
	infoNonceKey = "gophstore/metadata/nonce-key/v1"
)

// BlockHeader is the plaintext envelope of a block file. It can be validated
// without the master key.
type BlockHeader struct {
	Format     int       `json:"format"`
	Partition  int       `json:"partition"`
	DB         uuid.UUID `json:"db"`
	Block      int       `json:"block"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

type blockPayload struct {
	Block int                  `json:"block"`
	Items []model.ItemMetadata `json:"items"`
}

// ParseHeader decodes a block file and checks its shape.
func ParseHeader(data []byte) (BlockHeader, error) {
	var h BlockHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return BlockHeader{}, fmt.Errorf("block json: %w", errs.ErrDamaged)
	}
	if h.Format != BlockFormat || h.Partition < 1 || h.Block < 0 || h.DB == uuid.Nil {
		return BlockHeader{}, fmt.Errorf("block header: %w", errs.ErrDamaged)
	}
	if !(box.Blob{Nonce: h.Nonce, Ciphertext: h.Ciphertext}).WellFormed() {
		return BlockHeader{}, fmt.Errorf("block %d ciphertext: %w", h.Block, errs.ErrDamaged)
	}
	return h, nil
}

// blockKeys are the sub-keys a block codec derives from the master key.
type blockKeys struct {
	enc   []byte
	nonce []byte
}

func deriveBlockKeys(master []byte, db uuid.UUID) (blockKeys, error) {
	enc, err := expand(master, db, infoBlockKey)
	if err != nil {
		return blockKeys{}, err
	}
	nonce, err := expand(master, db, infoNonceKey)
	if err != nil {
		return blockKeys{}, err
	}
	return blockKeys{enc: enc, nonce: nonce}, nil
}

func expand(master []byte, db uuid.UUID, info string) ([]byte, error) {
	out := make([]byte, box.KeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, db.Bytes(), []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

func (k blockKeys) wipe() {
	crypto.Zero(k.enc)
	crypto.Zero(k.nonce)
}

// nonceFor is a synthetic nonce: unchanged block contents seal to identical bytes.
func (k blockKeys) nonceFor(block int, plaintext []byte) []byte {
	m := hmac.New(sha256.New, k.nonce)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(block))
	m.Write(b[:])
	m.Write(plaintext)
	return m.Sum(nil)[:box.NonceLen]
}

func (k blockKeys) seal(db uuid.UUID, partition, block int, items []model.ItemMetadata) ([]byte, error) {
	if items == nil {
		items = []model.ItemMetadata{}
	}
	pt, err := json.Marshal(blockPayload{Block: block, Items: items})
	if err != nil {
		return nil, fmt.Errorf("marshal block %d: %w", block, err)
	}
	b, err := box.Seal(pt, k.enc, k.nonceFor(block, pt))
	if err != nil {
		return nil, err
	}
	return json.Marshal(BlockHeader{
		Format:     BlockFormat,
		Partition:  partition,
		DB:         db,
		Block:      block,
		Nonce:      b.Nonce,
		Ciphertext: b.Ciphertext,
	})
}

func (k blockKeys) open(h BlockHeader) ([]model.ItemMetadata, error) {
	pt, err := box.Open(box.Blob{Nonce: h.Nonce, Ciphertext: h.Ciphertext}, k.enc)
	switch {
	case errors.Is(err, box.ErrAuth), errors.Is(err, box.ErrMalformed):
		return nil, fmt.Errorf("block %d: %w", h.Block, errs.ErrDamaged)
	case err != nil:
		return nil, err
	}
	var p blockPayload
	if err := json.Unmarshal(pt, &p); err != nil {
		return nil, fmt.Errorf("block %d payload: %w", h.Block, errs.ErrDamaged)
	}
	if p.Block != h.Block {
		return nil, fmt.Errorf("block %d claims %d: %w", h.Block, p.Block, errs.ErrDamaged)
	}
	return p.Items, nil
}
