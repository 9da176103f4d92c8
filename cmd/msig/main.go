package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/MultiSigWallet/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	walletURL    string
	keyFile      string
	cfgFile      string
	outputFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "msig",
	Short: "Multi-signature wallet CLI",
	Long: `msig is the command-line interface for a multi-signature wallet daemon.

Owners propose transactions, confirm them, and execute them once enough
confirmations are in. Every mutating command signs in with the owner key
given by --key (default ~/.msig/owner.key).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		home, _ := os.UserHomeDir()
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(filepath.Join(home, ".msig"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("msig")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if walletURL == "" {
			walletURL = viper.GetString("wallet_url")
		}
		if walletURL == "" {
			walletURL = "http://localhost:8080"
		}
		if keyFile == "" {
			keyFile = viper.GetString("key_file")
		}
		if keyFile == "" {
			keyFile = filepath.Join(home, ".msig", "owner.key")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.msig/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&walletURL, "url", "", "wallet daemon URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "owner key file (default ~/.msig/owner.key)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "output format: text or json")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func newReadClient() *client.Client {
	return client.MustNew(walletURL)
}

func newOwnerClient() (*client.Client, error) {
	return client.New(walletURL, client.WithKeyFile(keyFile))
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Minute)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new owner key",
	Long: `Generate a secp256k1 owner key and write it to --key.

The printed address is what the wallet operator lists under wallet.owners.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := client.GenerateKey(keyFile)
		if err != nil {
			return err
		}
		fmt.Printf("Key file: %s\n", keyFile)
		fmt.Printf("Address:  %s\n", addr.Hex())
		return nil
	},
}

// ── login ────────────────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign the login challenge and print an owner token",
	Long: `Sign the daemon's login challenge with the owner key and print the
resulting Bearer token, for use with curl or other HTTP clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newOwnerClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		token, err := c.Login(ctx)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the msig CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("msig %s\n", version)
	},
}
