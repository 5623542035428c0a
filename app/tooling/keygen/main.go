// This program generates an RSA keypair for a wallet: a PEM-encoded
// private key file and the corresponding user id, the form every
// other part of the system uses to name a participant.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/signature"
)

func main() {
	var (
		bits    int
		outPath string
	)

	root := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA keypair and print its derived user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(bits, outPath)
		},
	}

	root.Flags().IntVar(&bits, "bits", 2048, "RSA key size in bits")
	root.Flags().StringVar(&outPath, "out", "wallet.pem", "path to write the PEM-encoded private key")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(bits int, outPath string) error {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("keygen: generate key: %w", err)
	}

	pemText := signature.PrivateKeyToPEM(priv)
	if err := os.WriteFile(outPath, []byte(pemText), 0o600); err != nil {
		return fmt.Errorf("keygen: write %s: %w", outPath, err)
	}

	userID := signature.PublicKeyToUserID(&priv.PublicKey)
	fmt.Printf("wrote private key to %s\n", outPath)
	fmt.Printf("user id: %s\n", userID)

	return nil
}
