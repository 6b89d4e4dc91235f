// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zipdecrypt converts a ZIP archive protected by the traditional
// PKWARE ("ZipCrypto") encryption scheme into an equivalent unprotected
// archive, in a single streaming pass.
//
// The transform decrypts each encrypted entry's data, strips the 12-byte
// encryption header, clears the encryption bit of the general-purpose flags
// and shrinks the compressed-size fields accordingly, so that the output can
// be fed to any sequential ZIP consumer without knowledge of the password.
// Input bytes are classified as they flow past; no entry is ever buffered
// whole, and the only state kept between reads is an 8-byte lookahead
// window, the cipher keys and the header parser position.
//
// # Basic Usage
//
// Converting a password-protected archive to an unprotected one:
//
//	src, _ := os.Open("protected.zip")
//	dst, _ := os.Create("plain.zip")
//
//	r := zipdecrypt.NewReader(src, []byte("secret"))
//	if _, err := io.Copy(dst, r); err != nil {
//		// handle err
//	}
//	r.Close()
//
// Password verification inside the format is a single-byte heuristic: a
// wrong password still matches roughly once in 256 attempts, and a one-byte
// collision on an unrelated entry must not abort an otherwise healthy
// stream. Verification is therefore scoped to one entry chosen by the
// caller:
//
//	r := zipdecrypt.NewReader(src, password, zipdecrypt.WithVerifiedName([]byte("a.txt")))
//
// With a verified name registered, a check-byte mismatch on exactly that
// entry surfaces as ErrWrongPassword; mismatches on other entries are
// silently ignored.
//
// Readers are not safe for concurrent use. Any returned error other than
// io.EOF leaves the stream in an unusable state: the cipher and the parser
// are strictly sequential and cannot resynchronize.
package zipdecrypt

import (
	"bytes"
	"io"

	"github.com/lemon4ksan/zipdecrypt/internal/zipformat"
)

// parseState identifies the position of the header state machine inside the
// current entry. One state step runs per emitted byte.
type parseState int

const (
	stateSignature parseState = iota // expecting a local file header signature
	stateFlags                       // at the general-purpose flags byte
	stateMethod                      // at the compression method field
	stateCRC                         // at the 4-byte CRC field
	stateSize                        // at the 4-byte compressed size field
	stateNameLen                     // at the 2-byte file name length field
	stateExtraLen                    // at the 2-byte extra field length field
	stateName                        // accumulating the file name
	stateHeader                      // between header and data, consumes the encryption header
	stateData                        // inside entry data
	stateTail                        // past the last entry, pass-through
)

// section tracks which structural part of the entry is being traversed. The
// crc and size states are shared between the file header and the data
// descriptor, and the section decides where the entry ends afterwards.
type section int

const (
	sectionFileHeader section = iota
	sectionFileData
	sectionDataDescriptor
)

// unknownSize marks a compressed size that is deferred to the entry's data
// descriptor.
const unknownSize int64 = -1

// Option configures a Reader.
type Option func(*Reader)

// WithVerifiedName registers the raw (uninterpreted) name of the one entry
// whose password check byte is allowed to abort the stream. Without it a
// wrong password is never reported and the affected entries decrypt to
// garbage.
func WithVerifiedName(name []byte) Option {
	return func(r *Reader) {
		r.verifyName = name
	}
}

// Reader is the streaming transform. It reads a (possibly) password-protected
// ZIP archive from the underlying source and yields the same archive with the
// traditional PKWARE encryption removed.
//
// Reader implements io.Reader, io.ByteReader and io.Closer.
type Reader struct {
	src        io.Reader
	buf        *lookahead
	seed       keys // derived from the password, immutable afterwards
	keys       keys // working copy, reset per encrypted entry
	verifyName []byte

	state     parseState
	section   section
	skip      int // raw bytes to pass through before the next state step
	encrypted bool
	compSize  int64
	check     int // expected password check byte of the current entry
	nameLen   int
	extraLen  int
	name      []byte

	err error // sticky; any failure ends the stream
}

// NewReader creates a streaming decrypting reader over src.
//
// The password is folded into the seed keys immediately and not retained;
// callers may zero the slice as soon as NewReader returns.
func NewReader(src io.Reader, password []byte, opts ...Option) *Reader {
	r := &Reader{
		src:  src,
		buf:  newLookahead(src),
		seed: newKeys(password),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read fills p with transformed output bytes. It returns io.EOF once the
// underlying source is exhausted.
func (r *Reader) Read(p []byte) (int, error) {
	for i := range p {
		b, err := r.ReadByte()
		if err != nil {
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

// ReadByte produces the next byte of the transformed stream. Every call
// advances the source by at least one byte and runs at most one step of the
// header state machine (plus the fixed 12-byte encryption header consumed at
// an entry's header-to-data transition).
func (r *Reader) ReadByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	b, err := r.step()
	if err != nil {
		r.err = err
		return 0, err
	}
	if b == eofMarker {
		r.err = io.EOF
		return 0, io.EOF
	}
	return byte(b), nil
}

// Close releases the underlying source when it is closeable.
func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// step pulls one byte from the lookahead window and runs the state machine
// on it, returning the byte to emit (possibly rewritten or decrypted).
func (r *Reader) step() (int, error) {
	b, err := r.buf.next()
	if err != nil {
		return 0, err
	}
	if r.skip > 0 {
		r.skip--
		return b, nil
	}
	return r.handle(b)
}

// handle runs one state machine step on the byte currently in hand.
func (r *Reader) handle(b int) (int, error) {
	switch r.state {
	case stateSignature:
		ok, err := r.buf.peekEquals(zipformat.LocalFileHeaderMagic[:])
		if err != nil {
			return 0, err
		}
		if !ok {
			// Central directory or trailing records: emit verbatim.
			r.state = stateTail
			break
		}
		r.resetEntry()
		r.section = sectionFileHeader
		r.skip = 5 // rest of the signature plus the version field
		r.state = stateFlags

	case stateFlags:
		r.encrypted = b&0x01 != 0
		if b&0x40 != 0 {
			return 0, ErrStrongEncryption
		}
		if b&0x08 != 0 {
			// Streamed entry: CRC and sizes arrive in the data descriptor.
			// The check byte then comes from the modification time's high
			// byte, which sits 5 bytes ahead of the flags.
			var ahead [6]int
			if err := r.buf.peek(ahead[:]); err != nil {
				return 0, err
			}
			r.check = ahead[5]
			r.compSize = unknownSize
			r.state = stateNameLen
			r.skip = 19
		} else if r.encrypted {
			r.state = stateCRC
			r.skip = 7
		} else {
			r.state = stateMethod
			r.skip = 1
		}
		if r.encrypted {
			// The output is not encrypted anymore.
			b &^= 0x01
		}

	case stateMethod:
		r.skip = 5
		r.state = stateCRC

	case stateCRC:
		var values [4]int
		if err := r.buf.peek(values[:]); err != nil {
			return 0, err
		}
		if r.section == sectionFileHeader {
			r.check = values[3]
		}
		r.skip = 3
		r.state = stateSize

	case stateSize:
		var values [4]int
		if err := r.buf.peek(values[:]); err != nil {
			return 0, err
		}
		r.compSize = 0
		for i, v := range values {
			r.compSize |= int64(v&0xff) << (8 * i)
		}
		if r.encrypted {
			// The stored size counts the encryption header; the output
			// stream no longer carries it.
			subtractOverhead(values[:])
			if err := r.buf.overwrite(values[:]); err != nil {
				return 0, err
			}
			b = values[0]
		}
		if r.section == sectionDataDescriptor {
			r.state = stateSignature
		} else {
			r.state = stateNameLen
		}
		r.skip = 7 // rest of this field plus the uncompressed size

	case stateNameLen:
		var values [2]int
		if err := r.buf.peek(values[:]); err != nil {
			return 0, err
		}
		r.nameLen = values[0]&0xff | (values[1]&0xff)<<8
		r.name = r.name[:0]
		r.skip = 1
		r.state = stateExtraLen

	case stateExtraLen:
		var values [2]int
		if err := r.buf.peek(values[:]); err != nil {
			return 0, err
		}
		r.extraLen = values[0]&0xff | (values[1]&0xff)<<8
		if !r.encrypted {
			if r.compSize > 0 {
				r.state = stateHeader
			} else {
				r.state = stateSignature
			}
			r.skip = 1 + r.nameLen + r.extraLen
		} else {
			r.state = stateName
			r.skip = 1
		}

	case stateName:
		// The name is captured one window's worth per step; it is only
		// needed to decide whether a failed password check is fatal.
		var values [lookaheadSize]int
		if err := r.buf.peek(values[:]); err != nil {
			return 0, err
		}
		n := min(r.nameLen-len(r.name), lookaheadSize)
		for _, v := range values[:n] {
			r.name = append(r.name, byte(v))
		}
		if len(r.name) == r.nameLen {
			r.state = stateHeader
			r.skip = max(0, n-1+r.extraLen)
		} else {
			r.skip = lookaheadSize - 1
		}

	case stateHeader:
		return r.enterData(b)

	case stateData:
		return r.stepData(b)

	case stateTail:
		// Pass-through until the source is exhausted.
	}

	return b, nil
}

// enterData performs the header-to-data transition: for an encrypted entry
// it resets the working keys, consumes and decrypts the 12-byte encryption
// header, verifies the password check byte and discounts the header from the
// remaining size. It then falls directly into the data state for the byte
// currently in hand.
func (r *Reader) enterData(b int) (int, error) {
	r.section = sectionFileData
	r.state = stateData

	if r.encrypted {
		r.keys = r.seed
		var last byte
		for i := 0; i < zipformat.EncryptionHeaderLen; i++ {
			last = r.keys.decrypt(byte(b))
			next, err := r.buf.next()
			if err != nil {
				return 0, err
			}
			b = next
		}
		if int(last) != r.check && r.verifyName != nil && bytes.Equal(r.name, r.verifyName) {
			return 0, ErrWrongPassword
		}
		if r.compSize != unknownSize {
			r.compSize -= zipformat.EncryptionHeaderLen
			if r.compSize == 0 {
				// Nothing follows the encryption header; the byte in hand
				// already belongs to the next record.
				r.state = stateSignature
				return r.handle(b)
			}
		}
	}

	return r.stepData(b)
}

// stepData handles one byte of entry data, including detection of the data
// descriptor that terminates entries of unknown size.
func (r *Reader) stepData(b int) (int, error) {
	if !r.encrypted {
		r.compSize--
		if r.compSize == 0 {
			r.state = stateSignature
		}
		return b, nil
	}

	if r.compSize == unknownSize {
		ok, err := r.buf.peekEquals(zipformat.DataDescriptorMagic[:])
		if err != nil {
			return 0, err
		}
		if ok {
			r.section = sectionDataDescriptor
			r.skip = 3 // rest of the descriptor signature
			r.state = stateCRC
			return b, nil
		}
	}

	b = int(r.keys.decrypt(byte(b)))
	if r.compSize != unknownSize {
		r.compSize--
		if r.compSize == 0 {
			r.state = stateSignature
		}
	}
	return b, nil
}

// resetEntry clears the per-entry context before a new local file header is
// traversed.
func (r *Reader) resetEntry() {
	r.encrypted = false
	r.compSize = 0
	r.check = 0
	r.nameLen = 0
	r.extraLen = 0
	r.name = r.name[:0]
}

// subtractOverhead subtracts the encryption header length from a
// little-endian field held as one value per byte, propagating the borrow
// across the bytes.
func subtractOverhead(values []int) {
	dec := zipformat.EncryptionHeaderLen
	for i := range values {
		values[i] -= dec
		if values[i] < 0 {
			values[i] += 256
			dec = 1
		} else {
			dec = 0
		}
	}
}
