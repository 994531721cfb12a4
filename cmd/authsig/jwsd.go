package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cybergodev/authsig"
)

func (a *app) jwsdCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jwsd",
		Short: "Sign and verify detached signatures bound to HTTP requests",
	}
	cmd.AddCommand(a.jwsdSignCommand(), a.jwsdVerifyCommand())
	return cmd
}

type jwsdParams struct {
	key         string
	address     string
	alg         string
	method      string
	uri         string
	body        string
	accessToken string
	attached    bool
	jws         string
	maxAge      time.Duration
	clockSkew   time.Duration
}

func (p *jwsdParams) bindRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.method, "method", "", "HTTP method of the request")
	cmd.Flags().StringVar(&p.uri, "uri", "", "target URI of the request")
	cmd.Flags().StringVar(&p.body, "body", "", `request body file, "-" for stdin`)
	cmd.Flags().StringVar(&p.accessToken, "access-token", "", "access token bound through the ath header")
}

func (a *app) jwsdSignCommand() *cobra.Command {
	var p jwsdParams

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a request body as a detached JWS",
		Long: `Sign the request body with the htm, uri and created headers, and ath when
an access token is given. The detached form "header..signature" is printed
unless --attached is set.

	$ authsig jwsd sign --key client.jwk --method POST --uri https://as.example/gnap --body grant.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			alg := authsig.Algorithm(p.alg)
			key, err := loadKey(p.key, alg)
			if err != nil {
				return err
			}
			defer destroy(key)

			signer, err := authsig.NewKeySigner(key, alg)
			if err != nil {
				return err
			}
			body, err := a.readInput(p.body)
			if err != nil {
				return err
			}

			jws, err := authsig.SignJWSD(cmd.Context(), signer, authsig.JWSDRequest{
				Method:      p.method,
				URI:         p.uri,
				Body:        body,
				AccessToken: p.accessToken,
				Detached:    !p.attached,
			}, authsig.WithLogger(a.log))
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{"kid": signer.KeyID(), "htm": p.method, "uri": p.uri}).Debug("signed request")
			return a.writeLine(jws)
		},
	}

	p.bindRequestFlags(cmd)
	cmd.Flags().StringVar(&p.key, "key", "", "private key file")
	cmd.Flags().StringVar(&p.alg, "alg", "", "signing algorithm (default: the key's algorithm)")
	cmd.Flags().BoolVar(&p.attached, "attached", false, "keep the payload in the token")
	return cmd
}

func (a *app) jwsdVerifyCommand() *cobra.Command {
	var p jwsdParams

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a detached JWS against a request",
		Long: `Verify a detached JWS for the given method, URI and body and print its
protected header. --max-age bounds the age of the created header.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := loadVerifier(p.key, p.address, authsig.Algorithm(p.alg))
			if err != nil {
				return err
			}
			jws, err := a.readText(p.jws)
			if err != nil {
				return err
			}
			var body []byte
			if p.body != "" {
				if body, err = a.readInput(p.body); err != nil {
					return err
				}
			}
			key, err := v.lookup(jws)
			if err != nil {
				return err
			}

			d, err := authsig.VerifyJWSD(cmd.Context(), jws, body, key, authsig.JWSDOptions{
				Method:      p.method,
				URI:         p.uri,
				AccessToken: p.accessToken,
				MaxTokenAge: p.maxAge,
				ClockSkew:   p.clockSkew,
				Logger:      a.log,
			})
			if err != nil {
				return err
			}
			return a.writeJSON(d.Header)
		},
	}

	p.bindRequestFlags(cmd)
	cmd.Flags().StringVar(&p.key, "key", "", "public JWK or JWK set file")
	cmd.Flags().StringVar(&p.address, "address", "", "verify against this Ethereum address instead of a key")
	cmd.Flags().StringVar(&p.alg, "alg", "", "algorithm of an address-only key")
	cmd.Flags().StringVar(&p.jws, "jws", "", "file holding the detached JWS")
	cmd.Flags().DurationVar(&p.maxAge, "max-age", authsig.DefaultJWSDMaxAge, "maximum age of the created header")
	cmd.Flags().DurationVar(&p.clockSkew, "clock-skew", 30*time.Second, "tolerated clock drift")
	return cmd
}
