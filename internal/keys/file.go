package keys

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// GenerateRoot returns a fresh random root secret.
func GenerateRoot() ([]byte, error) {
	root := make([]byte, MinRootSize)
	if _, err := rand.Read(root); err != nil {
		return nil, fmt.Errorf("keys: generate root: %w", err)
	}
	return root, nil
}

// ParseKeyFile reads hex-encoded root secrets, one per line. The first is
// current; the rest are retired. Blank lines and lines starting with '#'
// are ignored.
func ParseKeyFile(data []byte) (current []byte, retired [][]byte, err error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		root, err := hex.DecodeString(text)
		if err != nil {
			return nil, nil, fmt.Errorf("keys: line %d: %w", line, err)
		}
		if current == nil {
			current = root
			continue
		}
		retired = append(retired, root)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("keys: scan key file: %w", err)
	}
	if current == nil {
		return nil, nil, ErrNoRootSecret
	}
	return current, retired, nil
}

// LoadProvider reads a key file and builds an HKDFProvider from it.
func LoadProvider(path, walletID string) (*HKDFProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read key file: %w", err)
	}
	current, retired, err := ParseKeyFile(data)
	if err != nil {
		return nil, err
	}
	return NewHKDFProvider(walletID, current, retired...)
}

// FormatKeyFile renders roots in the format ParseKeyFile reads.
func FormatKeyFile(current []byte, retired ...[]byte) []byte {
	var b bytes.Buffer
	b.WriteString("# metavault root secrets: current first, then retired\n")
	b.WriteString(hex.EncodeToString(current))
	b.WriteByte('\n')
	for _, r := range retired {
		b.WriteString(hex.EncodeToString(r))
		b.WriteByte('\n')
	}
	return b.Bytes()
}
