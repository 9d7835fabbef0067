// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package secrand draws key material, salts and nonces from the operating
// system's cryptographically secure random source.
//
// Every failure is reported as ErrEntropyFailure. Callers must treat it as
// fatal for the operation in progress; there is no fallback to a weaker source.
package secrand

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/samber/oops"
)

// ErrEntropyFailure is returned when the random source fails or returns short.
var ErrEntropyFailure = errors.New("secure random source unavailable")

// reader is replaced in tests to simulate a broken source.
var reader io.Reader = rand.Reader

// sampleSize is the number of bytes drawn by Check.
const sampleSize = 32

// Read fills b with random bytes.
func Read(b []byte) error {
	if _, err := io.ReadFull(reader, b); err != nil {
		return oops.Code("ENTROPY_FAILURE").
			With("requested", len(b)).
			With("cause", err.Error()).
			Wrap(ErrEntropyFailure)
	}
	return nil
}

// Bytes returns n freshly drawn random bytes.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Check draws a sample from the random source and rejects an all-zero result.
// Intended to run once at process start.
func Check() error {
	b, err := Bytes(sampleSize)
	if err != nil {
		return err
	}
	for _, c := range b {
		if c != 0 {
			return nil
		}
	}
	return oops.Code("ENTROPY_FAILURE").
		With("sample_size", sampleSize).
		Wrap(ErrEntropyFailure)
}
