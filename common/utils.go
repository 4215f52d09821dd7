package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// The returned string has No 0x prefix
func ByteSliceToPureHexStr(b []byte) string {
	return Trim0xPrefix(ethcommon.Bytes2Hex(b))
}

// HexStrToBytes decodes a hex string with or without 0x prefix.
func HexStrToBytes(hexStr string) ([]byte, error) {
	b, err := hex.DecodeString(Trim0xPrefix(strings.TrimSpace(hexStr)))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", Shorten(hexStr, 8), err)
	}
	return b, nil
}

// Trim 0x or 0X prefix off the string.
func Trim0xPrefix(str string) string {
	s := strings.TrimPrefix(str, "0x")
	return strings.TrimPrefix(s, "0X")
}

// RandBytes reads n bytes from crypto/rand.
func RandBytes(n int) ([]byte, error) {
	return readRand(rand.Reader, n)
}

func readRand(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read %d random bytes: %w", n, err)
	}
	return b, nil
}

// Shorten shortens a hex string so that both sides have n characters and
// the rest is replaced with "..."
func Shorten(hexStr string, n int) string {
	str := Trim0xPrefix(hexStr)

	if len(str) <= n*2 {
		return str
	}
	return str[:n] + "..." + str[len(str)-n:]
}
