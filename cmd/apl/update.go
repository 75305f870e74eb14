package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/sign"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch and verify the latest signed package index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		home := openHome()
		client := httpClient()
		indexURL := config.GetIndexURL()

		data, err := fetchURL(cmd.Context(), client, indexURL)
		if err != nil {
			return fmt.Errorf("fetching index: %w", err)
		}
		sigData, err := fetchURL(cmd.Context(), client, indexURL+".sig")
		if err != nil {
			return fmt.Errorf("fetching index signature: %w", err)
		}

		if keyB64 := os.Getenv(config.EnvTrustedPublicKey); keyB64 != "" {
			pub, err := sign.DecodePublicKey(keyB64)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", config.EnvTrustedPublicKey, err)
			}
			sig, err := decodeSignature(sigData)
			if err != nil {
				return fmt.Errorf("decoding index signature: %w", err)
			}
			if !sign.Verify(pub, data, sig) {
				return fmt.Errorf("index signature verification failed against %s", indexURL)
			}
		} else {
			fmt.Fprintf(os.Stderr, "apl: warning: %s unset, skipping signature verification\n", config.EnvTrustedPublicKey)
		}

		if err := os.WriteFile(home.Index(), data, 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(home.IndexSig(), sigData, 0o644); err != nil {
			return err
		}
		fmt.Printf("index updated from %s\n", indexURL)
		return nil
	},
}

// decodeSignature parses the base64 text index.Persist writes into a
// ".sig" file back into raw signature bytes.
func decodeSignature(sigFile []byte) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(string(sigFile)))
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
