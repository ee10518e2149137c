// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const helloSha256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestDigestReader(t *testing.T) {
	got, err := DigestReader(strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}

	if d := cmp.Diff(Digest{Algorithm: SHA256, Hex: helloSha256}, got); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}

	if !got.Equals(DigestBytes([]byte("hello"))) {
		t.Errorf("streamed and in-memory digests differ")
	}
}

func TestParseDigest(t *testing.T) {
	for _, test := range []struct {
		Source  string
		WantErr bool
	}{
		{"sha256:" + helloSha256, false},
		{"sha256:abc", true},
		{"nocolon", true},
		{"", true},
	} {
		_, err := ParseDigest(test.Source)
		if (err != nil) != test.WantErr {
			t.Errorf("ParseDigest(%q): got err=%v, wantErr=%v", test.Source, err, test.WantErr)
		}
	}
}

func TestDigestJSONRoundtrip(t *testing.T) {
	type doc struct {
		Hashes map[string]Digest `json:"hashes"`
	}

	in := doc{Hashes: map[string]Digest{"/a": DigestBytes([]byte("hello"))}}

	serialized, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(string(serialized), `"sha256:`+helloSha256+`"`) {
		t.Errorf("unexpected serialization: %s", serialized)
	}

	var out doc
	if err := json.Unmarshal(serialized, &out); err != nil {
		t.Fatal(err)
	}

	if d := cmp.Diff(in, out); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}
}
