package main

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cybergodev/authsig"
)

func (a *app) keygenCommand() *cobra.Command {
	var (
		alg       string
		publicOut string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a private JWK",
		Long: `Generate a key pair and print the private JWK. The kid is the RFC 7638
thumbprint. With --public-out the public JWK is also written to a file.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			key, err := authsig.GenerateKey(authsig.Algorithm(alg))
			if err != nil {
				return err
			}
			defer destroy(key)

			if publicOut != "" {
				pub, err := json.MarshalIndent(key.Public(), "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(publicOut, append(pub, '\n'), 0o644); err != nil {
					return err
				}
			}
			a.log.WithFields(logrus.Fields{"kid": key.KeyID(), "alg": alg}).Info("generated key")
			return a.writeJSON(key)
		},
	}
	cmd.Flags().StringVar(&alg, "alg", string(authsig.ES256K), "key algorithm: ES256K, ES256, RS256, EDDSA or EIP191")
	cmd.Flags().StringVar(&publicOut, "public-out", "", "also write the public JWK to this file")
	return cmd
}

func destroy(key authsig.Key) {
	if d, ok := key.(interface{ Destroy() }); ok {
		d.Destroy()
	}
}
