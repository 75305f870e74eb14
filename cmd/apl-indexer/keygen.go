package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/sign"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new ed25519 signing keypair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := sign.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Printf("public:  %s\n", sign.EncodeKey(pub))
		fmt.Printf("private: %s\n", sign.EncodeKey(priv))
		return nil
	},
}
