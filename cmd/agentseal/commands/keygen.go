package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentseal/internal/primitive"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a hybrid identity key set and print its public halves",
		RunE: func(cmd *cobra.Command, args []string) error {
			suite := primitive.NewSuite()

			_, dhPub, err := suite.GenerateDH()
			if err != nil {
				return err
			}
			_, sigPub, err := suite.GenerateClassicalSigning()
			if err != nil {
				return err
			}
			_, pqPub, err := suite.GeneratePQSigning()
			if err != nil {
				return err
			}

			fmt.Printf("X25519:    %s\n", primitive.Fingerprint(dhPub.Slice()))
			fmt.Printf("Ed25519:   %s\n", primitive.Fingerprint(sigPub[:]))
			fmt.Printf("ML-DSA-65: %s\n", primitive.Fingerprint(pqPub))
			return nil
		},
	}
}
