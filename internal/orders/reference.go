package orders

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// refAttempts bounds how many fresh references Create tries before giving
// up on unique-index collisions.
const refAttempts = 5

var refSpace = big.NewInt(1_000_000)

// newOrderRef draws a candidate customer-facing reference, BW-<year>-<6
// digits>. The space is small enough that collisions happen at volume; the
// caller retries with a fresh draw when the unique index rejects one.
func newOrderRef(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, refSpace)
	if err != nil {
		return "", fmt.Errorf("draw order ref: %w", err)
	}
	return fmt.Sprintf("BW-%d-%06d", now.Year(), n.Int64()), nil
}
