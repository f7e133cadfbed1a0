package commands

import (
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"agentseal/internal/primitive"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <base58-public-key>",
		Short: "Print the fingerprint of a public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := base58.Decode(args[0])
			if err != nil {
				return fmt.Errorf("decode public key: %w", err)
			}
			fmt.Println(primitive.Fingerprint(pub))
			return nil
		},
	}
}
