package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/sign"
)

var verifyPublicKey string

var verifyCmd = &cobra.Command{
	Use:   "verify <file> <file.sig>",
	Short: "Verify a detached ed25519 signature against a public key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyPublicKey == "" {
			return fmt.Errorf("--public-key is required")
		}
		pub, err := sign.DecodePublicKey(verifyPublicKey)
		if err != nil {
			return fmt.Errorf("decoding public key: %w", err)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		sigText, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(sigText)))
		if err != nil {
			return fmt.Errorf("decoding signature: %w", err)
		}

		if !sign.Verify(pub, data, sig) {
			return fmt.Errorf("signature verification failed")
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyPublicKey, "public-key", "", "base64 ed25519 public key")
}
