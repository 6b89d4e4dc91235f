// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipdecrypt

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"

	"github.com/lemon4ksan/zipdecrypt/internal/zipformat"
)

// Fixed timestamps keep the fixture archives deterministic.
const (
	testModTime uint16 = 0x6C32
	testModDate uint16 = 0x5A7B
)

type testEntry struct {
	name       string
	data       []byte
	method     uint16 // 0 = stored, 8 = deflated
	encrypted  bool
	descriptor bool
}

// encryptStream applies the PKWARE stream cipher to plain, returning the
// ciphertext. The keys advance on plaintext bytes, mirroring decryption.
func encryptStream(password, plain []byte) []byte {
	k := newKeys(password)
	out := make([]byte, len(plain))
	for i, p := range plain {
		out[i] = p ^ k.streamByte()
		k.update(p)
	}
	return out
}

func deflateData(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// buildArchives produces two archives over the same entries: the plain one
// and the password-protected one. The protected archive encrypts the entries
// marked encrypted with the traditional PKWARE scheme; its central directory
// is shared with the plain archive, so a correct decryption of the protected
// stream must reproduce the plain stream byte for byte.
func buildArchives(t *testing.T, password string, entries []testEntry) (plain, protected []byte) {
	t.Helper()

	var pb, eb, central bytes.Buffer
	for _, e := range entries {
		payload := e.data
		if e.method == 8 {
			payload = deflateData(t, e.data)
		}
		sum := crc32.ChecksumIEEE(e.data)

		flags := uint16(0)
		if e.descriptor {
			flags |= 0x08
		}

		hdr := zipformat.LocalFileHeader{
			VersionNeededToExtract: 20,
			GeneralPurposeBitFlag:  flags,
			CompressionMethod:      e.method,
			LastModFileTime:        testModTime,
			LastModFileDate:        testModDate,
			Filename:               e.name,
		}
		if !e.descriptor {
			hdr.CRC32 = sum
			hdr.CompressedSize = uint32(len(payload))
			hdr.UncompressedSize = uint32(len(e.data))
		}

		central.Write(zipformat.CentralDirectoryEntry{
			VersionMadeBy:          20,
			VersionNeededToExtract: 20,
			GeneralPurposeBitFlag:  flags,
			CompressionMethod:      e.method,
			LastModFileTime:        testModTime,
			LastModFileDate:        testModDate,
			CRC32:                  sum,
			CompressedSize:         uint32(len(payload)),
			UncompressedSize:       uint32(len(e.data)),
			LocalHeaderOffset:      uint32(pb.Len()),
			Filename:               e.name,
		}.Encode())

		pb.Write(hdr.Encode())
		pb.Write(payload)
		if e.descriptor {
			pb.Write(zipformat.DataDescriptor{
				CRC32:            sum,
				CompressedSize:   uint32(len(payload)),
				UncompressedSize: uint32(len(e.data)),
			}.Encode())
		}

		if !e.encrypted {
			eb.Write(hdr.Encode())
			eb.Write(payload)
			if e.descriptor {
				eb.Write(zipformat.DataDescriptor{
					CRC32:            sum,
					CompressedSize:   uint32(len(payload)),
					UncompressedSize: uint32(len(e.data)),
				}.Encode())
			}
			continue
		}

		enc := hdr
		enc.GeneralPurposeBitFlag |= 0x01
		if !e.descriptor {
			enc.CompressedSize = uint32(len(payload)) + zipformat.EncryptionHeaderLen
		}

		// 11 arbitrary bytes plus the check byte: the CRC's high byte, or
		// the modification time's high byte when the sizes are deferred to
		// the data descriptor.
		check := byte(sum >> 24)
		if e.descriptor {
			check = byte(testModTime >> 8)
		}
		encHeader := []byte{0xd3, 0x5f, 0x11, 0x84, 0x29, 0x76, 0xa0, 0x4c, 0xe8, 0x3b, 0x07, check}

		eb.Write(enc.Encode())
		eb.Write(encryptStream([]byte(password), append(encHeader, payload...)))
		if e.descriptor {
			eb.Write(zipformat.DataDescriptor{
				CRC32:            sum,
				CompressedSize:   uint32(len(payload)) + zipformat.EncryptionHeaderLen,
				UncompressedSize: uint32(len(e.data)),
			}.Encode())
		}
	}

	cd, eocd := central.Bytes(), zipformat.EncodeEndOfCentralDirRecord(len(entries), uint32(central.Len()), uint32(pb.Len()))
	pb.Write(cd)
	pb.Write(eocd)
	eb.Write(cd)
	eb.Write(eocd)
	return pb.Bytes(), eb.Bytes()
}

// parseFirstEntry reads the first local file entry of archive the way a
// sequential ZIP consumer would, returning its name and decompressed
// content. Entries of deferred size must be deflated, since the stream's end
// is then found by the decoder itself.
func parseFirstEntry(t *testing.T, archive []byte) (string, []byte) {
	t.Helper()

	require.Equal(t, zipformat.LocalFileHeaderSignature, binary.LittleEndian.Uint32(archive[0:4]))
	flags := binary.LittleEndian.Uint16(archive[6:8])
	method := binary.LittleEndian.Uint16(archive[8:10])
	compSize := int(binary.LittleEndian.Uint32(archive[18:22]))
	nameLen := int(binary.LittleEndian.Uint16(archive[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(archive[28:30]))

	name := string(archive[30 : 30+nameLen])
	data := archive[30+nameLen+extraLen:]
	if flags&0x08 == 0 {
		data = data[:compSize]
	}

	switch method {
	case 0:
		require.Zero(t, flags&0x08, "stored entries cannot defer their size")
		return name, data
	case 8:
		content, err := io.ReadAll(flate.NewReader(bytes.NewReader(data)))
		require.NoError(t, err)
		return name, content
	default:
		t.Fatalf("unexpected compression method %d", method)
		return "", nil
	}
}
