package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const (
	invoiceLength   = 10
	invoiceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Invoice returns a random human-readable invoice code. Codes are not
// guaranteed unique; callers retry on a duplicate key.
func Invoice() (string, error) {
	out := make([]byte, invoiceLength)
	max := big.NewInt(int64(len(invoiceAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate invoice: %w", err)
		}
		out[i] = invoiceAlphabet[n.Int64()]
	}
	return string(out), nil
}
