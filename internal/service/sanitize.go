package service

import (
	"unicode/utf8"

	"golang.org/x/text/transform"
)

// sanitizeOutput 去除非法 UTF-8 字节序列，保留其余内容（包括原有的 U+FFFD）
func sanitizeOutput(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out, _, err := transform.String(dropIllFormed{}, s)
	if err != nil {
		return ""
	}
	return out
}

// dropIllFormed 逐字节丢弃无法解码的 UTF-8 序列
type dropIllFormed struct{ transform.NopResetter }

func (dropIllFormed) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		if c := src[nSrc]; c < utf8.RuneSelf {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = c
			nDst++
			nSrc++
			continue
		}

		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && size == 1 {
			if !atEOF && !utf8.FullRune(src[nSrc:]) {
				// 序列可能在下一块中补全
				return nDst, nSrc, transform.ErrShortSrc
			}
			nSrc++
			continue
		}
		if nDst+size > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], src[nSrc:nSrc+size])
		nSrc += size
	}
	return nDst, nSrc, nil
}
