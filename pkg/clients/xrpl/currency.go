package xrpl

import (
	"encoding/hex"
	"strings"
	"time"
)

// rippleEpochOffset is the unix time of 2000-01-01T00:00:00Z, the ledger's time origin.
const rippleEpochOffset = 946684800

// EncodeCurrency returns the wire form of a currency code. Codes longer than three characters
// travel as 40 hex characters, right padded with zero bytes.
func EncodeCurrency(code string) string {
	if len(code) <= 3 || IsHexCurrency(code) {
		return code
	}
	buf := make([]byte, 20)
	copy(buf, code)
	return strings.ToUpper(hex.EncodeToString(buf))
}

// DecodeCurrency reverses EncodeCurrency. Unknown hex payloads are returned unchanged.
func DecodeCurrency(code string) string {
	if !IsHexCurrency(code) {
		return code
	}
	raw, err := hex.DecodeString(code)
	if err != nil || raw[0] == 0x00 {
		return code
	}
	return strings.TrimRight(string(raw), "\x00")
}

func IsHexCurrency(code string) bool {
	if len(code) != 40 {
		return false
	}
	_, err := hex.DecodeString(code)
	return err == nil
}

func RippleTimeToTime(seconds int64) time.Time {
	return time.Unix(seconds+rippleEpochOffset, 0).UTC()
}

func TimeToRippleTime(t time.Time) int64 {
	return t.Unix() - rippleEpochOffset
}
