// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package secrand

import "io"

// SetReader swaps the random source and returns a restore function.
func SetReader(r io.Reader) (restore func()) {
	prev := reader
	reader = r
	return func() { reader = prev }
}
