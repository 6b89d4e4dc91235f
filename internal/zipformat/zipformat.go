// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zipformat holds the ZIP structure constants and the traditional
// PKWARE key mixing shared by the streaming transform and its tests.
package zipformat

import (
	"encoding/binary"
	"hash/crc32"
)

// Each record type is identified by a header signature. Signature values
// begin with the two byte constant marker of 0x4b50, representing the
// characters "PK".
const (
	LocalFileHeaderSignature  uint32 = 0x04034b50
	DataDescriptorSignature   uint32 = 0x08074b50
	CentralDirectorySignature uint32 = 0x02014b50
	EndOfCentralDirSignature  uint32 = 0x06054b50
)

// LocalFileHeaderMagic and DataDescriptorMagic are the little-endian byte
// forms of the signatures, in stream order.
var (
	LocalFileHeaderMagic = [4]byte{0x50, 0x4b, 0x03, 0x04}
	DataDescriptorMagic  = [4]byte{0x50, 0x4b, 0x07, 0x08}
)

// EncryptionHeaderLen is the size of the pseudo-random prefix prepended to
// every entry encrypted with the traditional PKWARE scheme. Its last byte
// doubles as the password check byte.
const EncryptionHeaderLen = 12

// Initial values of the three cipher key words, per APPNOTE.TXT section 6.1.
const (
	KeySeed0 uint32 = 0x12345678
	KeySeed1 uint32 = 0x23456789
	KeySeed2 uint32 = 0x34567890
)

const keyMultiplier = 134775813

// UpdateKeys advances the three cipher key words with one plaintext byte.
// The same mixing is used to fold the password into the seed keys and to
// advance the working keys after every decrypted byte.
func UpdateKeys(k *[3]uint32, b byte) {
	k[0] = CRC32Update(k[0], b)
	k[1] += k[0] & 0xff
	k[1] = k[1]*keyMultiplier + 1
	k[2] = CRC32Update(k[2], byte(k[1]>>24))
}

// CRC32Update folds one byte into a running CRC-32 (IEEE polynomial)
// without the pre/post inversion applied by hash/crc32.
func CRC32Update(crc uint32, b byte) uint32 {
	return crc32.IEEETable[(crc^uint32(b))&0xff] ^ (crc >> 8)
}

// LocalFileHeader mirrors the fixed portion of a local file header plus its
// variable-length name and extra field.
type LocalFileHeader struct {
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	Filename               string
	ExtraField             []byte
}

func (h LocalFileHeader) Encode() []byte {
	// Fixed size (30 bytes) + variable filename and extra field
	buf := make([]byte, 30+len(h.Filename)+len(h.ExtraField))

	binary.LittleEndian.PutUint32(buf[0:4], LocalFileHeaderSignature)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionNeededToExtract)
	binary.LittleEndian.PutUint16(buf[6:8], h.GeneralPurposeBitFlag)
	binary.LittleEndian.PutUint16(buf[8:10], h.CompressionMethod)
	binary.LittleEndian.PutUint16(buf[10:12], h.LastModFileTime)
	binary.LittleEndian.PutUint16(buf[12:14], h.LastModFileDate)
	binary.LittleEndian.PutUint32(buf[14:18], h.CRC32)
	binary.LittleEndian.PutUint32(buf[18:22], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[22:26], h.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(h.Filename)))
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(h.ExtraField)))

	copy(buf[30:], h.Filename)
	copy(buf[30+len(h.Filename):], h.ExtraField)

	return buf
}

// DataDescriptor is the trailing record carrying CRC and sizes for entries
// written in streaming mode (bit 3 of the general-purpose flags).
type DataDescriptor struct {
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
}

func (d DataDescriptor) Encode() []byte {
	buf := make([]byte, 16)

	binary.LittleEndian.PutUint32(buf[0:4], DataDescriptorSignature)
	binary.LittleEndian.PutUint32(buf[4:8], d.CRC32)
	binary.LittleEndian.PutUint32(buf[8:12], d.CompressedSize)
	binary.LittleEndian.PutUint32(buf[12:16], d.UncompressedSize)

	return buf
}

// CentralDirectoryEntry mirrors one central directory file record.
type CentralDirectoryEntry struct {
	VersionMadeBy          uint16
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	LocalHeaderOffset      uint32
	Filename               string
}

func (d CentralDirectoryEntry) Encode() []byte {
	buf := make([]byte, 46+len(d.Filename))

	binary.LittleEndian.PutUint32(buf[0:4], CentralDirectorySignature)
	binary.LittleEndian.PutUint16(buf[4:6], d.VersionMadeBy)
	binary.LittleEndian.PutUint16(buf[6:8], d.VersionNeededToExtract)
	binary.LittleEndian.PutUint16(buf[8:10], d.GeneralPurposeBitFlag)
	binary.LittleEndian.PutUint16(buf[10:12], d.CompressionMethod)
	binary.LittleEndian.PutUint16(buf[12:14], d.LastModFileTime)
	binary.LittleEndian.PutUint16(buf[14:16], d.LastModFileDate)
	binary.LittleEndian.PutUint32(buf[16:20], d.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], d.CompressedSize)
	binary.LittleEndian.PutUint32(buf[24:28], d.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(d.Filename)))
	binary.LittleEndian.PutUint32(buf[42:46], d.LocalHeaderOffset)

	copy(buf[46:], d.Filename)

	return buf
}

// EncodeEndOfCentralDirRecord builds the end of central directory record for
// a single-disk archive without a comment.
func EncodeEndOfCentralDirRecord(entriesNum int, centralDirSize, centralDirOffset uint32) []byte {
	buf := make([]byte, 22)

	binary.LittleEndian.PutUint32(buf[0:4], EndOfCentralDirSignature)
	binary.LittleEndian.PutUint16(buf[4:6], 0)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(entriesNum))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(entriesNum))
	binary.LittleEndian.PutUint32(buf[12:16], centralDirSize)
	binary.LittleEndian.PutUint32(buf[16:20], centralDirOffset)
	binary.LittleEndian.PutUint16(buf[20:22], 0)

	return buf
}
