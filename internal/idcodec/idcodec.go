// Package idcodec turns internal xid identifiers into short public ids and
// back.
//
// An xid is 12 bytes. The codec splits it into a 64-bit and a 32-bit
// unsigned integer and encodes the pair with sqids, so the public id is
// URL-safe, deterministic for a given alphabet, and fully reversible.
package idcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/xid"
	"github.com/sqids/sqids-go"
)

// ErrInvalid is returned by Decode for strings that are not a public id
// produced by the same codec.
var ErrInvalid = errors.New("idcodec: invalid public id")

// DefaultMinLength pads short encodings so public ids have a uniform look.
const DefaultMinLength = 8

// Options configures a Codec. Zero values select the sqids defaults.
type Options struct {
	Alphabet  string
	MinLength uint8
}

// Codec encodes and decodes public ids. It is safe for concurrent use.
type Codec struct {
	sq *sqids.Sqids
}

// New builds a Codec. The same Options must be used everywhere ids are
// decoded, otherwise previously issued ids stop resolving.
func New(opts Options) (*Codec, error) {
	sq, err := sqids.New(sqids.Options{
		Alphabet:  opts.Alphabet,
		MinLength: opts.MinLength,
	})
	if err != nil {
		return nil, fmt.Errorf("idcodec: configuring sqids: %w", err)
	}
	return &Codec{sq: sq}, nil
}

// Encode returns the public id for id.
func (c *Codec) Encode(id xid.ID) (string, error) {
	b := id.Bytes()
	hi := binary.BigEndian.Uint64(b[0:8])
	lo := uint64(binary.BigEndian.Uint32(b[8:12]))

	s, err := c.sq.Encode([]uint64{hi, lo})
	if err != nil {
		return "", fmt.Errorf("idcodec: encoding %s: %w", id, err)
	}
	return s, nil
}

// Decode returns the xid behind a public id. Only the canonical encoding
// is accepted: sqids can decode other strings to numbers too, so the
// result is re-encoded and compared.
func (c *Codec) Decode(publicID string) (xid.ID, error) {
	if publicID == "" {
		return xid.NilID(), ErrInvalid
	}

	nums := c.sq.Decode(publicID)
	if len(nums) != 2 || nums[1] > 0xFFFFFFFF {
		return xid.NilID(), ErrInvalid
	}

	canonical, err := c.sq.Encode(nums)
	if err != nil || canonical != publicID {
		return xid.NilID(), ErrInvalid
	}

	var b [12]byte
	binary.BigEndian.PutUint64(b[0:8], nums[0])
	binary.BigEndian.PutUint32(b[8:12], uint32(nums[1]))

	id, err := xid.FromBytes(b[:])
	if err != nil {
		return xid.NilID(), ErrInvalid
	}
	return id, nil
}

// DecodeString is Decode returning the xid in its string form.
func (c *Codec) DecodeString(publicID string) (string, error) {
	id, err := c.Decode(publicID)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
