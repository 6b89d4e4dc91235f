// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipdecrypt

import "io"

// lookaheadSize is the capacity of the sliding window over the source
// stream. No single peek or overwrite may exceed it.
const lookaheadSize = 8

// eofMarker fills window slots past the end of the source stream. Once it
// has been returned, every subsequent read keeps returning it.
const eofMarker = -1

// lookahead is a fixed-capacity window of upcoming source bytes. The header
// state machine uses it to inspect fields before they are emitted and to
// rewrite them in place, while still handing bytes out one at a time.
//
// Slots hold byte values widened to int so that eofMarker fits alongside
// them. The cursor always points at the byte most recently returned by next;
// peeks and overwrites operate on the window starting at the cursor.
type lookahead struct {
	src    io.Reader
	window [lookaheadSize]int
	cursor int
	eof    bool
	err    error // sticky source failure
}

func newLookahead(src io.Reader) *lookahead {
	// Start with the window exhausted so the first next triggers a fill.
	return &lookahead{src: src, cursor: lookaheadSize}
}

// next advances the cursor and returns the byte under it, refilling the
// window from the source when it is exhausted.
func (l *lookahead) next() (int, error) {
	l.cursor++
	if l.cursor >= lookaheadSize {
		if err := l.fill(0); err != nil {
			return 0, err
		}
		l.cursor = 0
	}
	return l.window[l.cursor], nil
}

// peekEquals reports whether the bytes starting at the cursor match pattern.
// Exhausted slots never match.
func (l *lookahead) peekEquals(pattern []byte) (bool, error) {
	if err := l.ensure(len(pattern)); err != nil {
		return false, err
	}
	for i, b := range pattern {
		if l.window[l.cursor+i] != int(b) {
			return false, nil
		}
	}
	return true, nil
}

// peek copies len(dst) upcoming values, starting at the cursor, without
// advancing it.
func (l *lookahead) peek(dst []int) error {
	if err := l.ensure(len(dst)); err != nil {
		return err
	}
	copy(dst, l.window[l.cursor:l.cursor+len(dst)])
	return nil
}

// overwrite replaces the values starting at the cursor. The replaced bytes
// have not been emitted yet, so the rewrite is invisible to the consumer.
func (l *lookahead) overwrite(values []int) error {
	if err := l.ensure(len(values)); err != nil {
		return err
	}
	copy(l.window[l.cursor:l.cursor+len(values)], values)
	return nil
}

// ensure guarantees that n slots starting at the cursor are resident,
// compacting consumed leading bytes and filling the vacated tail from the
// source when the request runs past the buffered end.
func (l *lookahead) ensure(n int) error {
	if n > lookaheadSize-l.cursor {
		remaining := lookaheadSize - l.cursor
		copy(l.window[:remaining], l.window[l.cursor:])
		if err := l.fill(remaining); err != nil {
			return err
		}
		l.cursor = 0
	}
	return nil
}

// fill reads source bytes into the window slots from offset onward. Slots
// the source cannot satisfy are set to eofMarker.
func (l *lookahead) fill(offset int) error {
	if l.err != nil {
		return l.err
	}
	for i := offset; i < lookaheadSize; i++ {
		l.window[i] = eofMarker
	}
	if l.eof {
		return nil
	}

	var buf [lookaheadSize]byte
	n, err := io.ReadFull(l.src, buf[:lookaheadSize-offset])
	for i := 0; i < n; i++ {
		l.window[offset+i] = int(buf[i])
	}
	switch err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		l.eof = true
	default:
		l.err = err
		return err
	}
	return nil
}
