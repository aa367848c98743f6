package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// readInput returns the bytes named by a hex argument or, when file is set,
// the raw contents of file.
func readInput(args []string, file string) ([]byte, error) {
	if file != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("give either --file or hex bytes, not both")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		return data, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no input bytes")
	}
	return parseHex(strings.Join(args, ""))
}

func parseHex(raw string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "", "0x", "").Replace(raw)
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("parse hex: %w", err)
	}
	return out, nil
}
