package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rendis/nodeflow/internal/secrets"
)

// runRotateKey re-seals every stored secret under a new encryption key.
func runRotateKey(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("rotate-key", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	newKey := fs.String("new-key", "", "new ENCRYPTION_KEY value (default $NODEFLOW_NEW_ENCRYPTION_KEY)")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before the environment is read")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: nodeflow rotate-key [--new-key value]")
		return 2
	}
	next := *newKey
	if next == "" {
		next = os.Getenv("NODEFLOW_NEW_ENCRYPTION_KEY")
	}
	if next == "" {
		fmt.Fprintln(os.Stderr, "Error: a new key is required (--new-key or NODEFLOW_NEW_ENCRYPTION_KEY)")
		return 2
	}

	cfg := loadConfig(*envFile)
	if cfg.EncryptionKey == "" {
		fmt.Fprintln(os.Stderr, "Error: ENCRYPTION_KEY is not set; there is nothing to rotate from")
		return 1
	}
	if next == cfg.EncryptionKey {
		fmt.Fprintln(os.Stderr, "Error: the new key equals the current ENCRYPTION_KEY")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	vault, ok := a.vault.(*secrets.AESVault)
	if !ok {
		fmt.Fprintln(os.Stderr, "Error: vault does not support rotation")
		return 1
	}
	n, err := vault.Rotate(ctx, cfg.parseVaultKey(next))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: rotated %d secrets before failing: %v\n", n, err)
		return 1
	}
	a.logger.Info("vault key rotated", "secrets", n)
	fmt.Fprintf(out, "rotated %d secrets; set ENCRYPTION_KEY to the new key before restarting\n", n)
	return 0
}
