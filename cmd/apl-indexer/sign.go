package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/sign"
)

var signKey string

var signCmd = &cobra.Command{
	Use:   "sign <file>",
	Short: "Write a detached ed25519 signature for a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		keyB64 := signKey
		if keyB64 == "" {
			keyB64 = os.Getenv(config.EnvSigningKey)
		}
		if keyB64 == "" {
			return fmt.Errorf("no signing key: pass --signing-key or set %s", config.EnvSigningKey)
		}
		priv, err := sign.DecodePrivateKey(keyB64)
		if err != nil {
			return fmt.Errorf("decoding signing key: %w", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sig := sign.Sign(priv, data)

		sigPath := path + ".sig"
		if err := os.WriteFile(sigPath, []byte(sign.EncodeKey(sig)), 0o644); err != nil {
			return err
		}
		fmt.Println(sigPath)
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&signKey, "signing-key", "", "base64 ed25519 private key (defaults to "+config.EnvSigningKey+")")
}
