package main

import (
	"github.com/spf13/cobra"

	"github.com/cybergodev/authsig"
)

func (a *app) hashCommand() *cobra.Command {
	var wildcards []string

	cmd := &cobra.Command{
		Use:   "hash [file]",
		Short: "Print the canonical SHA-256 of a JSON document",
		Long: `Print the SHA-256 of the RFC 8785 canonical form of a JSON document as 0x hex.

The document is read from file, or from stdin when file is omitted or "-".
Each --wildcard path is removed before hashing, as a signer does for the
hashWildcard claim.

	$ authsig hash request.json --wildcard transactionRequest.gas`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			doc, err := a.readJSON(path)
			if err != nil {
				return err
			}
			h, err := authsig.HashWithoutWildcardFields(doc, wildcards, wildcards)
			if err != nil {
				return err
			}
			return a.writeLine(h.String())
		},
	}
	cmd.Flags().StringSliceVar(&wildcards, "wildcard", nil, "remove this path before hashing (repeatable)")
	return cmd
}
