// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package compress wraps klauspost/compress's zstd implementation as
// the compression step spec.md §4.7 step 8 abstracts away.
package compress

import (
	"github.com/klauspost/compress/zstd"
)

// Compress returns data compressed with the default zstd encoder
// settings.
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
