// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipdecrypt

import "github.com/lemon4ksan/zipdecrypt/internal/zipformat"

// keys holds the three 32-bit state words of the traditional PKWARE cipher.
//
// A Reader keeps two instances: the seed derived once from the password, and
// the working copy reset from the seed at the start of every encrypted entry
// and advanced once per decrypted byte.
type keys [3]uint32

// newKeys derives the seed keys by folding each password byte into the
// fixed initial state. An empty password yields the initial state unchanged.
func newKeys(password []byte) keys {
	k := keys{zipformat.KeySeed0, zipformat.KeySeed1, zipformat.KeySeed2}
	for _, b := range password {
		k.update(b)
	}
	return k
}

// update advances the key state with one plaintext byte. During decryption
// it must be fed the decrypted byte, not the ciphertext byte.
func (k *keys) update(b byte) {
	zipformat.UpdateKeys((*[3]uint32)(k), b)
}

// streamByte returns the keystream byte for the current key state. XORing it
// with a ciphertext byte yields the plaintext byte.
func (k *keys) streamByte() byte {
	t := k[2] | 2
	return byte((t * (t ^ 1)) >> 8)
}

// decrypt recovers one plaintext byte and advances the keys with it.
func (k *keys) decrypt(c byte) byte {
	b := c ^ k.streamByte()
	k.update(b)
	return b
}
