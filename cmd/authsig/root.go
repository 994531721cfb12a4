package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "authsig"

// app carries the streams and logger shared by every subcommand.
type app struct {
	in  io.Reader
	out io.Writer
	log *logrus.Logger

	logLevel  string
	logFormat string
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, log: logrus.New()}
	a.log.SetOutput(errOut)

	root := &cobra.Command{
		Use:           "authsig",
		Short:         "Sign and verify request-bound authorization tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyEnvironment(cmd); err != nil {
				return err
			}
			return a.setupLogging()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "set log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "set log format: text or json")

	root.AddCommand(
		a.hashCommand(),
		a.keygenCommand(),
		a.signCommand(),
		a.verifyCommand(),
		a.jwsdCommand(),
		a.encryptCommand(),
		a.decryptCommand(),
	)
	return root
}

func (a *app) setupLogging() error {
	level, err := logrus.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.log.SetLevel(level)

	switch a.logFormat {
	case "text":
		a.log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		a.log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", a.logFormat)
	}
	return nil
}

// applyEnvironment sets flags the user did not pass from environment
// variables. AUTHSIG_<COMMAND>_<FLAG> takes precedence over AUTHSIG_<FLAG>;
// for "authsig jwsd sign --key" that is AUTHSIG_JWSD_SIGN_KEY, then AUTHSIG_KEY.
func applyEnvironment(cmd *cobra.Command) error {
	scoped := viper.New()
	scoped.SetEnvPrefix(strings.ReplaceAll(cmd.CommandPath(), " ", "_"))
	scoped.AutomaticEnv()

	global := viper.New()
	global.SetEnvPrefix(envPrefix)
	global.AutomaticEnv()

	var errs []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := strings.ReplaceAll(f.Name, "-", "_")
		for _, v := range []*viper.Viper{scoped, global} {
			if !v.IsSet(name) {
				continue
			}
			if err := cmd.Flags().Set(f.Name, v.GetString(name)); err != nil {
				errs = append(errs, err.Error())
			}
			return
		}
	})

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("error mapping environment variables to command flags: %s", strings.Join(errs, "; "))
}
