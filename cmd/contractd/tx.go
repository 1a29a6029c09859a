package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v29"
	"github.com/echenim/Bedrock/contracts/internal/node"
	"github.com/echenim/Bedrock/contracts/internal/rpc"
	"github.com/echenim/Bedrock/contracts/internal/telemetry"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/spf13/cobra"
)

// The commands below run against the configured store without starting any
// servers. They must not be used while a node holds the same store.

// withNode opens the node of the home directory for one offline operation.
func withNode(cmd *cobra.Command, fn func(n *node.Node, svc *rpc.Service) error) error {
	homeDir, _ := cmd.Flags().GetString("home")
	cfg, err := loadNodeConfig(homeDir, "")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gen, err := loadNodeGenesis(homeDir, "")
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	n, err := node.NewNode(cfg, gen, telemetry.NewNopLogger())
	if err != nil {
		return fmt.Errorf("open node: %w", err)
	}
	ferr := fn(n, rpc.NewService(n.Executive(), nil))
	if err := n.Stop(); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

func addBlockFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("height", 1, "block height the dispatch executes at")
	cmd.Flags().Uint64("timestamp", 0, "block timestamp in unix seconds (default: now)")
}

func blockFlags(cmd *cobra.Command) rpc.BlockParams {
	height, _ := cmd.Flags().GetUint64("height")
	ts, _ := cmd.Flags().GetUint64("timestamp")
	if ts == 0 {
		ts = uint64(time.Now().Unix())
	}
	return rpc.BlockParams{Height: height, Timestamp: ts}
}

func addDispatchFlags(cmd *cobra.Command) {
	addBlockFlags(cmd)
	cmd.Flags().String("origin", "", "hex address of the signing account")
	cmd.Flags().Uint64("gas", 1_000_000, "gas limit")
	cmd.Flags().String("data", "", "hex input data")
	cmd.MarkFlagRequired("origin")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readCode loads a module from path. Files ending in .wat are assembled.
func readCode(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read code: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".wat") {
		wasm, err := wasmtime.Wat2Wasm(string(data))
		if err != nil {
			return nil, fmt.Errorf("assemble %s: %w", path, err)
		}
		return wasm, nil
	}
	return data, nil
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload [file]",
		Short: "Validate and store a wasm (or .wat) module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(args[0])
			if err != nil {
				return err
			}
			return withNode(cmd, func(_ *node.Node, svc *rpc.Service) error {
				resp, err := svc.UploadCode(context.Background(), &rpc.UploadCodeRequest{Code: hex.EncodeToString(code)})
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
}

func newInstantiateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instantiate [code-hash]",
		Short: "Deploy uploaded code as a new contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, _ := cmd.Flags().GetString("origin")
			gasLimit, _ := cmd.Flags().GetUint64("gas")
			data, _ := cmd.Flags().GetString("data")
			endowment, _ := cmd.Flags().GetString("endowment")
			allowance, _ := cmd.Flags().GetString("rent-allowance")

			req := &rpc.InstantiateRequest{
				Block:         blockFlags(cmd),
				Origin:        origin,
				CodeHash:      args[0],
				Endowment:     endowment,
				GasLimit:      gasLimit,
				Data:          data,
				RentAllowance: allowance,
			}
			return withNode(cmd, func(_ *node.Node, svc *rpc.Service) error {
				resp, err := svc.Instantiate(context.Background(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
	addDispatchFlags(cmd)
	cmd.Flags().String("endowment", "0", "balance transferred to the new contract")
	cmd.Flags().String("rent-allowance", "", "maximum rent the contract pays (default: unlimited)")
	return cmd
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call [address]",
		Short: "Call an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, _ := cmd.Flags().GetString("origin")
			gasLimit, _ := cmd.Flags().GetUint64("gas")
			data, _ := cmd.Flags().GetString("data")
			value, _ := cmd.Flags().GetString("value")

			req := &rpc.CallRequest{
				Block:    blockFlags(cmd),
				Origin:   origin,
				Dest:     args[0],
				Value:    value,
				GasLimit: gasLimit,
				Data:     data,
			}
			return withNode(cmd, func(_ *node.Node, svc *rpc.Service) error {
				resp, err := svc.Call(context.Background(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
	addDispatchFlags(cmd)
	cmd.Flags().String("value", "0", "balance transferred with the call")
	return cmd
}

func newEvictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evict [address]",
		Short: "Remove a contract that can no longer pay its rent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := types.AddressFromHex(args[0])
			if err != nil {
				return err
			}
			block := blockFlags(cmd)
			return withNode(cmd, func(n *node.Node, _ *rpc.Service) error {
				evicted, err := n.Executive().Evict(types.Block{Height: block.Height, Timestamp: block.Timestamp}, addr)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"address": addr.String(), "evicted": evicted})
			})
		},
	}
	addBlockFlags(cmd)
	return cmd
}
