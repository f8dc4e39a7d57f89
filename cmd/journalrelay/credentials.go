// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/journalrelay/cmd/journalrelay/cli"
	"github.com/bureau-foundation/journalrelay/lib/atomicfile"
	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/config"
	"github.com/bureau-foundation/journalrelay/lib/sealed"
	"github.com/bureau-foundation/journalrelay/lib/secret"
)

// maxKeyFileSize bounds plaintext key files read for sealing.
const maxKeyFileSize = 1 << 20

func credentialsCommand() *cli.Command {
	return &cli.Command{
		Name:    "credentials",
		Summary: "Manage and check Cloud Logging credentials",
		Description: `Service-account key files can be stored sealed with age. Generate an
identity with "keygen", seal the key file to its public key with
"seal", then set credentials.key_file to the sealed file and
credentials.identity_file to the identity.`,
		Subcommands: []*cli.Command{
			credentialsKeygenCommand(),
			credentialsSealCommand(),
			credentialsTestCommand(),
		},
	}
}

func credentialsKeygenCommand() *cli.Command {
	var output string
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an age identity for sealing key files",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVarP(&output, "output", "o", "", "write the identity to this file (required)")
			return flagSet
		},
		Examples: []cli.Example{{
			Description: "Create an identity under the state directory",
			Command:     "journalrelay credentials keygen -o /var/lib/journalrelay/identity.txt",
		}},
		Run: func(args []string) error {
			if output == "" {
				return &cli.UsageError{Message: "--output is required"}
			}
			if len(args) > 0 {
				return &cli.UsageError{Message: fmt.Sprintf("unexpected argument %q", args[0])}
			}
			return generateIdentity(os.Stdout, output)
		},
	}
}

func generateIdentity(w io.Writer, output string) error {
	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("%s already exists", output)
	}
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	contents := make([]byte, 0, keypair.PrivateKey.Len()+1)
	contents = append(contents, keypair.PrivateKey.Bytes()...)
	contents = append(contents, '\n')
	defer secret.Zero(contents)
	if err := atomicfile.Write(output, contents, 0o600); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	fmt.Fprintf(w, "wrote identity to %s\npublic key: %s\n", output, keypair.PublicKey)
	return nil
}

func credentialsSealCommand() *cli.Command {
	var recipients []string
	var output string
	return &cli.Command{
		Name:    "seal",
		Summary: "Encrypt a service-account key file with age",
		Usage:   "journalrelay credentials seal --recipient age1... KEYFILE [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flagSet.StringArrayVarP(&recipients, "recipient", "r", nil, "age public key to encrypt to (repeatable)")
			flagSet.StringVarP(&output, "output", "o", "", "sealed output file (default KEYFILE"+sealed.Suffix+")")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return &cli.UsageError{Message: "usage: journalrelay credentials seal --recipient age1... KEYFILE"}
			}
			if len(recipients) == 0 {
				return &cli.UsageError{Message: "at least one --recipient is required"}
			}
			if output == "" {
				output = args[0] + sealed.Suffix
			}
			return sealKeyFile(os.Stdout, args[0], output, recipients)
		},
	}
}

func sealKeyFile(w io.Writer, keyFile, output string, recipients []string) error {
	plaintext, err := secret.ReadFile(keyFile, maxKeyFileSize)
	if err != nil {
		return err
	}
	defer plaintext.Close()

	ciphertext, err := sealed.Encrypt(plaintext.Bytes(), recipients)
	if err != nil {
		return err
	}
	if err := atomicfile.Write(output, ciphertext, 0o600); err != nil {
		return fmt.Errorf("writing sealed key: %w", err)
	}
	fmt.Fprintf(w, "sealed %s to %s for %d recipient(s)\n", keyFile, output, len(recipients))
	return nil
}

func credentialsTestCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "test",
		Summary: "Obtain a token with the configured credentials",
		Description: `Fetch one access token the way the relay would and report its source
and expiry. The token itself is never printed.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := cli.NewLogger(cfg.Level())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			clk := clock.Real()

			dest, err := connect(ctx, cfg, clk, logger)
			if err != nil {
				return err
			}
			defer dest.close()

			token, err := dest.credentials.Token(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "source:   %s\nlog:      %s\nexpires:  %s (in %s)\n",
				token.Source, dest.client.LogName(),
				token.ExpiresAt.Format(time.RFC3339),
				token.Remaining(clk.Now()).Round(time.Second))
			return nil
		},
	}
}
