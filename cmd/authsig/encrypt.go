package main

import (
	"github.com/spf13/cobra"

	"github.com/cybergodev/authsig"
)

func (a *app) encryptCommand() *cobra.Command {
	var key, in string

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt data for an RSA key as a compact JWE",
		Long:  "Encrypt the input with RSA-OAEP-256 and A256GCM for the holder of an RSA JWK.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			k, err := loadKey(key, authsig.RS256)
			if err != nil {
				return err
			}
			defer destroy(k)

			plaintext, err := a.readInput(in)
			if err != nil {
				return err
			}
			token, err := authsig.RSAEncrypt(plaintext, k.Public())
			if err != nil {
				return err
			}
			return a.writeLine(token)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "RSA JWK file")
	cmd.Flags().StringVar(&in, "in", "", `file to encrypt, "-" or empty for stdin`)
	return cmd
}

func (a *app) decryptCommand() *cobra.Command {
	var key, in string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a compact JWE with an RSA private key",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			k, err := loadKey(key, authsig.RS256)
			if err != nil {
				return err
			}
			defer destroy(k)

			token, err := a.readText(in)
			if err != nil {
				return err
			}
			plaintext, err := authsig.RSADecrypt(token, k)
			if err != nil {
				return err
			}
			_, err = a.out.Write(plaintext)
			return err
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "RSA private JWK file")
	cmd.Flags().StringVar(&in, "in", "", `file holding the JWE, "-" or empty for stdin`)
	return cmd
}
