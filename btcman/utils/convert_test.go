package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBtcToSatoshiRounds(t *testing.T) {
	assert.Equal(t, int64(1000), BtcToSatoshi(0.00001))
	assert.Equal(t, int64(29), BtcToSatoshi(0.00000029))
	assert.Equal(t, int64(100000000), BtcToSatoshi(1))
}

func TestFormatBtc(t *testing.T) {
	assert.Equal(t, "0.00000042", FormatBtc(42))
	assert.Equal(t, "1.50000000", FormatBtc(150000000))
	assert.InDelta(t, 0.5, SatoshiToBtc(50000000), 1e-12)
}
