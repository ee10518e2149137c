// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/opencontainers/go-digest"
)

const SHA256 = "sha256"

type Digest struct {
	// Algorithm holds the algorithm used to compute the hash.
	Algorithm string

	// Hex holds the hex portion of the content hash.
	Hex string
}

func (v Digest) IsSet() bool { return v.Hex != "" }

func (v Digest) String() string {
	if !v.IsSet() {
		return ""
	}
	return fmt.Sprintf("%s:%s", v.Algorithm, v.Hex)
}

func (v Digest) Equals(rhs Digest) bool {
	return v.Algorithm == rhs.Algorithm && v.Hex == rhs.Hex
}

// Digests are persisted in their `algorithm:hex` form.
func (v Digest) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*v = Digest{}
		return nil
	}
	return parseDigest(v, string(text))
}

func ParseDigest(str string) (Digest, error) {
	var d Digest
	return d, parseDigest(&d, str)
}

func parseDigest(d *Digest, str string) error {
	parsed, err := digest.Parse(str)
	if err != nil {
		return fmt.Errorf("%s: invalid digest: %w", str, err)
	}

	d.Algorithm = parsed.Algorithm().String()
	d.Hex = parsed.Encoded()

	return nil
}

// DigestReader streams r through sha256.
func DigestReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	return FromHash(SHA256, h), nil
}

func DigestBytes(contents []byte) Digest {
	h := sha256.New()
	_, _ = h.Write(contents)
	return FromHash(SHA256, h)
}

func FromHash(algo string, h hash.Hash) Digest {
	return Digest{Algorithm: algo, Hex: hex.EncodeToString(h.Sum(nil))}
}
