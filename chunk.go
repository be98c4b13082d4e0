// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

// chunkHeaderLen is the fixed wire size of a chunk header.
const chunkHeaderLen = 2

// maxChunkLength is the largest length a chunk header can encode: 15 bits.
const maxChunkLength = 0x7FFF

// packChunkHeader encodes length and the last-chunk flag into the two
// header bytes defined by spec §4.3/§6:
//
//	Header[0] = (last?0x80:0x00) | ((length >> 8) & 0x7F)
//	Header[1] = length & 0xFF
func packChunkHeader(b []byte, length int, last bool) {
	_ = b[1] // bounds check hint
	b[0] = byte((length >> 8) & 0x7F)
	if last {
		b[0] |= 0x80
	}
	b[1] = byte(length & 0xFF)
}

// parseChunkHeader decodes the two header bytes into (length, last).
func parseChunkHeader(b []byte) (length int, last bool) {
	_ = b[1]
	last = b[0]&0x80 != 0
	length = (int(b[0]&0x7F) << 8) | int(b[1])
	return length, last
}
