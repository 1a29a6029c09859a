package main

import (
	"context"
	"time"

	"github.com/echenim/Bedrock/contracts/internal/rpc"
	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a running node over gRPC",
	}

	cmd.PersistentFlags().String("rpc", "127.0.0.1:27657", "gRPC address of the node")
	cmd.PersistentFlags().Duration("timeout", 5*time.Second, "request timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "balance [address]",
		Short: "Show the free balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rpc.Client) (any, error) {
				return c.GetBalance(ctx, &rpc.GetBalanceRequest{Address: args[0]})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "contract [address]",
		Short: "Show the record of a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rpc.Client) (any, error) {
				return c.GetContract(ctx, &rpc.GetContractRequest{Address: args[0]})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "storage [address] [hex key]",
		Short: "Show a committed storage value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rpc.Client) (any, error) {
				return c.GetStorage(ctx, &rpc.GetStorageRequest{Address: args[0], Key: args[1]})
			})
		},
	})

	return cmd
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *rpc.Client) (any, error)) error {
	addr, _ := cmd.Flags().GetString("rpc")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client, err := rpc.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := fn(ctx, client)
	if err != nil {
		return err
	}
	return printJSON(cmd, resp)
}
