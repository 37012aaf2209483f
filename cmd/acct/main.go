package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmerrifield20/accountant/pkg/client"
	"github.com/jmerrifield20/accountant/pkg/event"
	"github.com/jmerrifield20/accountant/pkg/keys"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverAddr string
	keyFile    string
	cfgFile    string
	timeout    time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "acct",
	Short: "Accountant ledger CLI",
	Long: `acct talks to an accountant server over UDP.

It generates keypairs, queries balances and the hash chain, and submits
signed transfers referencing the current chain head.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".acct"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("ACCT")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverAddr == "" {
			serverAddr = viper.GetString("server")
		}
		if serverAddr == "" {
			serverAddr = "127.0.0.1:8000"
		}
		if keyFile == "" {
			keyFile = viper.GetString("keyfile")
		}
		if keyFile == "" {
			home, _ := os.UserHomeDir()
			keyFile = filepath.Join(home, ".acct", "key.json")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.acct/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "accountant UDP address (default 127.0.0.1:8000)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "keypair file (default ~/.acct/key.json)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Second, "per-request timeout")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(idCmd)
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(versionCmd)
}

func dial() (*client.Client, error) {
	return client.New(serverAddr, client.WithTimeout(timeout))
}

// ── keygen ───────────────────────────────────────────────────────────────────

var (
	keygenMnemonic bool
	keygenRestore  string
	keygenForce    bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a keypair and write it to the key file",
	Long: `Generate a new ed25519 keypair.

With --mnemonic the key is derived from a fresh 24-word BIP-39 phrase which
is printed once; write it down to recover the key later with --restore.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenMnemonic, "mnemonic", false, "derive the key from a new BIP-39 mnemonic")
	keygenCmd.Flags().StringVar(&keygenRestore, "restore", "", "derive the key from an existing BIP-39 mnemonic")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite an existing key file")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keyFile); err == nil && !keygenForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", keyFile)
	}

	var (
		kp       *keys.Keypair
		mnemonic string
		err      error
	)
	switch {
	case keygenRestore != "":
		kp, err = keys.FromMnemonic(keygenRestore, "")
	case keygenMnemonic:
		if mnemonic, err = keys.NewMnemonic(); err == nil {
			kp, err = keys.FromMnemonic(mnemonic, "")
		}
	default:
		kp, err = keys.Generate()
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := kp.Save(keyFile); err != nil {
		return err
	}

	pterm.Success.Printfln("Key written to %s", keyFile)
	pterm.Info.Printfln("Identity: %s", keys.EncodeIdentity(kp.Identity))
	if mnemonic != "" {
		pterm.Warning.Println("Recovery phrase (shown once):")
		pterm.DefaultBox.Println(mnemonic)
	}
	return nil
}

// ── balance ──────────────────────────────────────────────────────────────────

var balanceCmd = &cobra.Command{
	Use:   "balance [identity]",
	Short: "Show the balance of an identity (default: your own key)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identityArg(args)
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		bal, err := c.Balance(cmd.Context(), id)
		if err != nil {
			return err
		}
		pterm.Printfln("%s  %d", keys.EncodeIdentity(id), bal)
		return nil
	},
}

func identityArg(args []string) (event.Identity, error) {
	if len(args) == 1 {
		return keys.ParseIdentity(args[0])
	}
	kp, err := keys.Load(keyFile)
	if err != nil {
		return event.Identity{}, err
	}
	return kp.Identity, nil
}

// ── transfer ─────────────────────────────────────────────────────────────────

var transferAttempts int

var transferCmd = &cobra.Command{
	Use:   "transfer <to> <amount>",
	Short: "Sign and submit a transfer against the current chain head",
	Long: `Transfer signs a payment to <to> with your key. The transfer references the
current chain head; if another transfer lands first it is re-signed against
the new head and resubmitted, up to --attempts times.`,
	Args: cobra.ExactArgs(2),
	RunE: runTransfer,
}

func init() {
	transferCmd.Flags().IntVar(&transferAttempts, "attempts", 3, "submissions before giving up on a moving head")
}

func runTransfer(cmd *cobra.Command, args []string) error {
	to, err := keys.ParseIdentity(args[0])
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[1], err)
	}
	kp, err := keys.Load(keyFile)
	if err != nil {
		return err
	}
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	spinner, _ := pterm.DefaultSpinner.Start("Submitting transfer...")
	head, err := c.TransferLatest(cmd.Context(), kp, to, amount, transferAttempts)
	if err != nil {
		spinner.Fail(describe(err))
		return err
	}
	spinner.Success("Transfer applied")
	pterm.Info.Printfln("Entry: %s", keys.EncodeDigest(head))
	return nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, client.ErrInsufficientFunds):
		return "Rejected: insufficient funds"
	case errors.Is(err, client.ErrBadSignature):
		return "Rejected: bad signature"
	case errors.Is(err, client.ErrStaleReference):
		return "Rejected: chain head kept moving"
	case errors.Is(err, client.ErrTimeout):
		return "No response from server"
	default:
		return err.Error()
	}
}

// ── id ───────────────────────────────────────────────────────────────────────

var idFirst bool

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print the chain head (or the genesis digest with --first)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		get := c.LastID
		if idFirst {
			get = c.FirstID
		}
		d, err := get(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(keys.EncodeDigest(d))
		return nil
	},
}

func init() {
	idCmd.Flags().BoolVar(&idFirst, "first", false, "print the genesis digest")
}

// ── entries ──────────────────────────────────────────────────────────────────

var entriesCmd = &cobra.Command{
	Use:   "entries [since]",
	Short: "List chain entries appended after a digest (default: genesis)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEntries,
}

func runEntries(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	var since event.Digest
	if len(args) == 1 {
		if since, err = keys.ParseDigest(args[0]); err != nil {
			return err
		}
	} else if since, err = c.FirstID(ctx); err != nil {
		return err
	}

	entries, err := c.Entries(ctx, since)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		pterm.Info.Println("No entries.")
		return nil
	}

	data := pterm.TableData{{"ID", "FROM", "TO", "AMOUNT"}}
	for _, e := range entries {
		data = append(data, []string{
			keys.EncodeDigest(e.ID),
			keys.EncodeIdentity(e.Event.From),
			keys.EncodeIdentity(e.Event.To),
			strconv.FormatUint(e.Event.Amount, 10),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the acct version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("acct %s\n", version)
	},
}
