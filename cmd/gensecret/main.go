package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const defaultSecretKeyBytesLen = 32

// Prints random hex encoded key suitable for SECRET_KEY
func main() {
	fs := pflag.NewFlagSet("gensecret", pflag.ExitOnError)
	n := fs.IntP("bytes", "n", defaultSecretKeyBytesLen, "Key length in bytes")
	_ = fs.Parse(os.Args[1:])

	if *n < 16 {
		fmt.Fprintln(os.Stderr, "key shorter than 16 bytes is too weak")
		os.Exit(1)
	}

	b := make([]byte, *n)

	_, err := rand.Read(b)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hex.EncodeToString(b))
}
