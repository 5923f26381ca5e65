package main

import (
	"encoding/base64"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/security"
	"github.com/cuemby/hyperbox/pkg/storage"
)

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Probe, audit, and manage the security stack (CA, secrets, posture)",
}

func init() {
	securityCmd.PersistentFlags().String("store-dir", "/var/lib/hyperbox", "HyperBox storage directory")

	securityCmd.AddCommand(securityAuditCmd)
	securityCmd.AddCommand(securityCACmd)
	securityCmd.AddCommand(securitySecretsCmd)

	securityCACmd.AddCommand(securityCAInitCmd)
	securityCACmd.AddCommand(securityCAIssueCmd)
	securityCAIssueCmd.Flags().StringSlice("dns", nil, "DNS SANs for the issued certificate")
	securityCAIssueCmd.Flags().String("role", "node", "Signer role recorded for the issued certificate")

	securitySecretsCmd.AddCommand(securitySecretsEncryptCmd)
	securitySecretsCmd.AddCommand(securitySecretsDecryptCmd)
	securitySecretsCmd.PersistentFlags().String("password", "", "Password used to derive the AES-256 encryption key")
}

var securityAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Probe the host and report per-layer security posture",
	RunE: func(cmd *cobra.Command, args []string) error {
		audit := security.Detect().Audit()
		for _, l := range audit.Layers {
			fmt.Printf("%-22s %-10s %s\n", l.Layer, l.Outcome, l.Reason)
		}
		fmt.Printf("score: %.2f (acceptable: %t)\n", audit.Score, audit.IsAcceptable())
		for _, r := range audit.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
		return nil
	},
}

var securityCACmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage the image-verification certificate authority",
}

func caAuthority(cmd *cobra.Command) (*security.CertAuthority, storage.Store, error) {
	dir, _ := cmd.Flags().GetString("store-dir")
	store, err := storage.NewBoltStore(dir)
	if err != nil {
		return nil, nil, err
	}
	ca := security.NewCertAuthority(store)
	// LoadFromStore fails with "CA not initialized" on a fresh store; that's
	// expected before the first "security ca init" and not fatal here.
	_ = ca.LoadFromStore()
	return ca, store, nil
}

var securityCAInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate and persist a root CA, or report the existing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ca, _, err := caAuthority(cmd)
		if err != nil {
			return err
		}
		if ca.IsInitialized() {
			fmt.Println("root CA already initialized")
			return nil
		}
		if err := ca.Initialize(); err != nil {
			return err
		}
		if err := ca.SaveToStore(); err != nil {
			return err
		}
		fmt.Println("root CA initialized")
		return nil
	},
}

var securityCAIssueCmd = &cobra.Command{
	Use:   "issue SIGNER_ID",
	Short: "Issue a signer certificate chained to the root CA",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ca, _, err := caAuthority(cmd)
		if err != nil {
			return err
		}
		if !ca.IsInitialized() {
			return herrors.New(herrors.InvalidSpec, "cli.security.ca.issue",
				herrors.WithContext("reason", "root CA not initialized, run 'security ca init' first"))
		}

		dnsNames, _ := cmd.Flags().GetStringSlice("dns")
		role, _ := cmd.Flags().GetString("role")

		cert, err := ca.IssueSignerCertificate(args[0], role, dnsNames, []net.IP{})
		if err != nil {
			return err
		}
		fmt.Printf("issued certificate for %s (%d DER bytes)\n", args[0], len(cert.Certificate[0]))
		return nil
	},
}

var securitySecretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Encrypt and decrypt at-rest profile data",
}

func secretsManager(cmd *cobra.Command) (*security.SecretsManager, error) {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		return nil, herrors.New(herrors.InvalidSpec, "cli.security.secrets", herrors.WithContext("flag", "--password"))
	}
	return security.NewSecretsManagerFromPassword(password)
}

var securitySecretsEncryptCmd = &cobra.Command{
	Use:   "encrypt FILE",
	Short: "Encrypt a file's contents, writing base64 ciphertext to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sm, err := secretsManager(cmd)
		if err != nil {
			return err
		}
		plaintext, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ciphertext, err := sm.EncryptSecret(plaintext)
		if err != nil {
			return err
		}
		fmt.Println(base64.StdEncoding.EncodeToString(ciphertext))
		return nil
	},
}

var securitySecretsDecryptCmd = &cobra.Command{
	Use:   "decrypt FILE",
	Short: "Decrypt a file of base64 ciphertext produced by 'secrets encrypt'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sm, err := secretsManager(cmd)
		if err != nil {
			return err
		}
		encoded, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ciphertext, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return herrors.Wrap(herrors.InvalidSpec, "cli.security.secrets.decrypt", nil, err)
		}
		plaintext, err := sm.DecryptSecret(ciphertext)
		if err != nil {
			return err
		}
		os.Stdout.Write(plaintext)
		return nil
	},
}
