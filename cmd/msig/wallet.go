package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/jmerrifield20/MultiSigWallet/pkg/client"
)

func init() {
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(depositCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(txsCmd)
	rootCmd.AddCommand(eventsCmd)
}

func parseIndexArg(s string) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid transaction index %q", s)
	}
	return idx, nil
}

func parseAmountArg(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func printTransaction(tx *client.Transaction) error {
	if outputFormat == "json" {
		return printJSON(tx)
	}
	fmt.Printf("Index:         %d\n", tx.Index)
	fmt.Printf("To:            %s\n", tx.To.Hex())
	fmt.Printf("Value:         %s\n", tx.Value)
	fmt.Printf("Data:          %s\n", hexutil.Encode(tx.Data))
	fmt.Printf("Confirmations: %d\n", tx.NumConfirmations)
	fmt.Printf("State:         %s\n", tx.State)
	fmt.Printf("Submitted by:  %s at %s\n", tx.SubmittedBy.Hex(), tx.SubmittedAt.Format("2006-01-02 15:04:05Z07:00"))
	if tx.ExecutedAt != nil {
		fmt.Printf("Executed at:   %s\n", tx.ExecutedAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	return nil
}

// ── wallet ───────────────────────────────────────────────────────────────────

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Show the owner registry, threshold and balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		info, err := newReadClient().Wallet(ctx)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(info)
		}
		fmt.Printf("Threshold:    %d of %d\n", info.Threshold, len(info.Owners))
		fmt.Printf("Balance:      %s\n", info.Balance)
		fmt.Printf("Transactions: %d\n", info.TransactionCount)
		fmt.Println("Owners:")
		for _, o := range info.Owners {
			fmt.Printf("  %s\n", o.Hex())
		}
		return nil
	},
}

// ── deposit ──────────────────────────────────────────────────────────────────

var depositCmd = &cobra.Command{
	Use:   "deposit <amount>",
	Short: "Credit funds to the wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmountArg(args[0])
		if err != nil {
			return err
		}
		c, err := newOwnerClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		balance, err := c.Deposit(ctx, amount)
		if err != nil {
			return err
		}
		fmt.Printf("Balance: %s\n", balance)
		return nil
	},
}

// ── submit ───────────────────────────────────────────────────────────────────

var (
	submitValue string
	submitData  string
)

var submitCmd = &cobra.Command{
	Use:   "submit <to>",
	Short: "Propose a transaction",
	Long: `Propose a call to <to> carrying --value and --data.

  msig submit 0xAbC...123 --value 1000000000000000000 --data 0xa9059cbb...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid address %q", args[0])
		}
		value, err := parseAmountArg(submitValue)
		if err != nil {
			return err
		}
		var data []byte
		if submitData != "" {
			if data, err = hexutil.Decode(submitData); err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}
		}

		c, err := newOwnerClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		idx, err := c.Submit(ctx, common.HexToAddress(args[0]), value, data)
		if err != nil {
			return err
		}
		fmt.Printf("Submitted transaction %d\n", idx)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitValue, "value", "0", "amount to transfer (decimal or 0x hex)")
	submitCmd.Flags().StringVar(&submitData, "data", "", "call payload as 0x-prefixed hex")
}

// ── confirm / revoke / execute ───────────────────────────────────────────────

func mutateCmd(use, short string, action func(*client.Client, context.Context, int) (*client.Transaction, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <index>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			c, err := newOwnerClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			tx, err := action(c, ctx, idx)
			if err != nil {
				return err
			}
			return printTransaction(tx)
		},
	}
}

var (
	confirmCmd = mutateCmd("confirm", "Confirm a transaction", (*client.Client).Confirm)
	revokeCmd  = mutateCmd("revoke", "Withdraw your confirmation of a transaction", (*client.Client).Revoke)
	executeCmd = mutateCmd("execute", "Execute a fully confirmed transaction", (*client.Client).Execute)
)

// ── tx / txs ─────────────────────────────────────────────────────────────────

var txCmd = &cobra.Command{
	Use:   "tx <index>",
	Short: "Show a transaction and who confirmed it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseIndexArg(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		c := newReadClient()
		tx, err := c.Transaction(ctx, idx)
		if err != nil {
			return err
		}
		if err := printTransaction(tx); err != nil {
			return err
		}
		if outputFormat == "json" {
			return nil
		}
		owners, err := c.Confirmations(ctx, idx)
		if err != nil {
			return err
		}
		for _, o := range owners {
			fmt.Printf("  confirmed by %s\n", o.Hex())
		}
		return nil
	},
}

var (
	txsOffset int
	txsLimit  int
)

var txsCmd = &cobra.Command{
	Use:   "txs",
	Short: "List transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		txs, total, err := newReadClient().Transactions(ctx, txsOffset, txsLimit)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(map[string]any{"transactions": txs, "total": total})
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tTO\tVALUE\tCONFIRMATIONS\tSTATE")
		for _, tx := range txs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", tx.Index, tx.To.Hex(), tx.Value, tx.NumConfirmations, tx.State)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("%d of %d\n", len(txs), total)
		return nil
	},
}

func init() {
	txsCmd.Flags().IntVar(&txsOffset, "offset", 0, "index of the first transaction")
	txsCmd.Flags().IntVar(&txsLimit, "limit", 50, "maximum transactions to list")
}

// ── events ───────────────────────────────────────────────────────────────────

var (
	eventsOffset int
	eventsLimit  int
	eventsVerify bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List or verify the wallet's event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		c := newReadClient()

		if eventsVerify {
			if err := c.VerifyEvents(ctx); err != nil {
				return err
			}
			fmt.Println("event log OK")
			return nil
		}

		entries, total, root, err := c.Events(ctx, eventsOffset, eventsLimit)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(map[string]any{"entries": entries, "total": total, "root": root})
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tTIME\tKIND\tACTOR\tTX\tHASH")
		for _, e := range entries {
			tx := "-"
			if e.TxIndex >= 0 {
				tx = strconv.Itoa(e.TxIndex)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.16s\n",
				e.Index, e.Timestamp.Format("2006-01-02 15:04:05"), e.Kind, e.Actor, tx, e.Hash)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("%d entries, root %s\n", total, root)
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsOffset, "offset", 0, "index of the first entry")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum entries to list")
	eventsCmd.Flags().BoolVar(&eventsVerify, "verify", false, "walk the chain and report integrity instead of listing")
}
