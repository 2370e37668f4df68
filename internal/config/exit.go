package config

import (
	"fmt"
	"os"
)

// Exitf prints a formatted message to stderr and exits with code 2.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}
