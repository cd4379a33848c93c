package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Receipt returns a human-readable unique receipt number.
func Receipt() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("RCP-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("RCP-%s-%s", time.Now().UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))
}
