package utils

import (
	"math"
	"strconv"
)

const satoshiPerBtc = 100000000

func SatoshiToBtc(satoshi int64) float64 {
	return float64(satoshi) / satoshiPerBtc
}

// BtcToSatoshi rounds to the nearest satoshi; node RPCs report amounts and
// fee rates as BTC floats, which rarely multiply out exactly.
func BtcToSatoshi(btc float64) int64 {
	return int64(math.Round(btc * satoshiPerBtc))
}

// FormatBtc renders satoshi as a fixed eight-decimal BTC amount.
func FormatBtc(satoshi int64) string {
	return strconv.FormatFloat(SatoshiToBtc(satoshi), 'f', 8, 64)
}
