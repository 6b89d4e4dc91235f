// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipdecrypt

import "errors"

var (
	// ErrStrongEncryption is returned when an entry is protected by a strong
	// encryption scheme (AES and friends) instead of the traditional PKWARE
	// cipher. The stream cannot be recovered after this error.
	ErrStrongEncryption = errors.New("zipdecrypt: strong encryption is not supported")

	// ErrWrongPassword is returned when the decrypted check byte of an entry
	// does not match its recorded check value and the entry's name equals the
	// name registered with WithVerifiedName. The stream cannot be recovered
	// after this error.
	ErrWrongPassword = errors.New("zipdecrypt: wrong password")
)
