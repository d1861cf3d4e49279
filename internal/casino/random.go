package casino

import (
	"crypto/rand"
	"math/big"
)

// RandomSource draws uniformly from [0, n).
type RandomSource interface {
	IntN(n int) int
}

// CryptoSource reads from crypto/rand.
type CryptoSource struct{}

func (CryptoSource) IntN(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return int(v.Int64())
}
