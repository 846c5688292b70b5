package commands

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkheion-systems/arkheion-securing/internal/offers"
	"github.com/arkheion-systems/arkheion-securing/internal/securing"
	"github.com/arkheion-systems/arkheion-securing/internal/timestamp"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [container]",
	Short: "Verify a sealed container",
	Long: `Re-open a stored container, recompute its Merkle root from the raw
payload section and compare it with the recorded root. Exits non-zero when
the container has been tampered with.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	offerStore, err := offers.NewFilesystemStore(cfg.Offers.RootDir)
	if err != nil {
		return fmt.Errorf("failed to open offer store: %w", err)
	}
	defer offerStore.Close()

	verifier := securing.NewVerifier(offerStore, cfg.Securing.HashAlgorithm)
	result, err := verifier.Verify(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if !result.RootMatches {
		return fmt.Errorf("container %s does not match its recorded root", args[0])
	}

	// The local signer can also re-check the token binding; remote TSA
	// tokens need the authority's own verification tooling.
	if cfg.Timestamp.URL == "" {
		signerRoot, decErr := decodeRoot(result.ComputedRoot)
		if decErr != nil {
			return decErr
		}
		signer := timestamp.NewLocalSigner(cfg.Timestamp.Secret)
		if !signer.Verify(result.Token, signerRoot) {
			return fmt.Errorf("container %s carries a token that does not bind its root", args[0])
		}
	}
	return nil
}

func decodeRoot(encoded string) ([]byte, error) {
	root, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt computed root: %w", err)
	}
	return root, nil
}
