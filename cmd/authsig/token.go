package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cybergodev/authsig"
)

type signParams struct {
	key       string
	alg       string
	request   string
	wildcards []string
	expiresIn time.Duration
	subject   string
	issuer    string
	audience  []string
}

func (a *app) signCommand() *cobra.Command {
	var p signParams

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a JWT bound to a request document",
		Long: `Sign a JWT whose requestHash claim is the canonical hash of the request
document. The key is a private JWK, or a 0x hex secp256k1 private key for
ES256K and EIP191. The compact token is printed to stdout.

	$ authsig sign --key wallet.jwk --alg EIP191 --request request.json`,
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

			req := authsig.SignRequest{
				HashWildcard: p.wildcards,
				ExpiresIn:    p.expiresIn,
				Payload: authsig.Payload{
					Subject:  p.subject,
					Issuer:   p.issuer,
					Audience: p.audience,
				},
			}
			if p.request != "" {
				if req.Request, err = a.readJSON(p.request); err != nil {
					return err
				}
			}

			token, err := authsig.Sign(cmd.Context(), signer, req, authsig.WithLogger(a.log))
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{"kid": signer.KeyID(), "alg": signer.Algorithm()}).Debug("signed token")
			return a.writeLine(token)
		},
	}

	cmd.Flags().StringVar(&p.key, "key", "", "private key file")
	cmd.Flags().StringVar(&p.alg, "alg", "", "signing algorithm (default: the key's algorithm)")
	cmd.Flags().StringVar(&p.request, "request", "", `request JSON file, "-" for stdin`)
	cmd.Flags().StringSliceVar(&p.wildcards, "wildcard", nil, "leave this request path out of requestHash (repeatable)")
	cmd.Flags().DurationVar(&p.expiresIn, "expires-in", authsig.DefaultExpiry, "token lifetime")
	cmd.Flags().StringVar(&p.subject, "sub", "", "subject claim")
	cmd.Flags().StringVar(&p.issuer, "iss", "", "issuer claim")
	cmd.Flags().StringSliceVar(&p.audience, "aud", nil, "audience claim (repeatable)")
	return cmd
}

type verifyParams struct {
	key         string
	address     string
	alg         string
	token       string
	request     string
	wildcards   []string
	audience    string
	issuer      string
	subject     string
	maxAge      time.Duration
	clockSkew   time.Duration
	critical    []string
	printHeader bool
}

func (a *app) verifyCommand() *cobra.Command {
	var p verifyParams

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a JWT and print its claims",
		Long: `Verify a compact JWT and print its payload as JSON.

The verification key is a public JWK, a JWK set (the key is chosen by kid),
or an Ethereum address given with --address for ES256K and EIP191 tokens.
With --request the requestHash claim must equal the canonical hash of the
document; --wildcard names the paths the verifier lets the signer omit.

	$ authsig verify --address 0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf --token token.txt`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			v, err := loadVerifier(p.key, p.address, authsig.Algorithm(p.alg))
			if err != nil {
				return err
			}
			token, err := a.readText(p.token)
			if err != nil {
				return err
			}
			key, err := v.lookup(token)
			if err != nil {
				return err
			}

			opts := authsig.VerifyOptions{
				Audience:           p.audience,
				Issuer:             p.issuer,
				Subject:            p.subject,
				MaxTokenAge:        p.maxAge,
				AllowWildcards:     p.wildcards,
				CriticalExtensions: p.critical,
				ClockSkew:          p.clockSkew,
				Logger:             a.log,
			}
			if p.request != "" {
				if opts.Request, err = a.readJSON(p.request); err != nil {
					return err
				}
			}

			d, err := authsig.VerifyJWT(token, key, opts)
			if err != nil {
				return err
			}
			if p.printHeader {
				return a.writeJSON(map[string]any{"header": d.Header, "payload": d.Payload})
			}
			return a.writeJSON(d.Payload)
		},
	}

	cmd.Flags().StringVar(&p.key, "key", "", "public JWK or JWK set file")
	cmd.Flags().StringVar(&p.address, "address", "", "verify against this Ethereum address instead of a key")
	cmd.Flags().StringVar(&p.alg, "alg", "", "algorithm of an address-only key: EIP191 (default) or ES256K")
	cmd.Flags().StringVar(&p.token, "token", "", `file holding the token, "-" or empty for stdin`)
	cmd.Flags().StringVar(&p.request, "request", "", "request JSON file to compare with requestHash")
	cmd.Flags().StringSliceVar(&p.wildcards, "wildcard", nil, "request path the signer may leave out (repeatable)")
	cmd.Flags().StringVar(&p.audience, "aud", "", "required audience")
	cmd.Flags().StringVar(&p.issuer, "iss", "", "required issuer")
	cmd.Flags().StringVar(&p.subject, "sub", "", "required subject")
	cmd.Flags().DurationVar(&p.maxAge, "max-age", 0, "reject tokens issued longer ago than this")
	cmd.Flags().DurationVar(&p.clockSkew, "clock-skew", 30*time.Second, "tolerated clock drift")
	cmd.Flags().StringSliceVar(&p.critical, "crit", nil, "extra critical header parameter to accept (repeatable)")
	cmd.Flags().BoolVar(&p.printHeader, "header", false, "print the protected header as well")
	return cmd
}
