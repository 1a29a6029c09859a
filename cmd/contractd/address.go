package main

import (
	"fmt"

	"github.com/echenim/Bedrock/contracts/internal/crypto"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/spf13/cobra"
)

func newAddressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Address and hash derivation commands",
	}

	cmd.AddCommand(addressContractCmd())
	cmd.AddCommand(addressCodeHashCmd())

	return cmd
}

func addressContractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Derive the address a deployment will create",
		RunE: func(cmd *cobra.Command, args []string) error {
			deployerHex, _ := cmd.Flags().GetString("deployer")
			codeHashHex, _ := cmd.Flags().GetString("code-hash")
			nonce, _ := cmd.Flags().GetUint64("nonce")

			deployer, err := types.AddressFromHex(deployerHex)
			if err != nil {
				return fmt.Errorf("deployer: %w", err)
			}
			codeHash, err := types.HashFromHex(codeHashHex)
			if err != nil {
				return fmt.Errorf("code-hash: %w", err)
			}

			addr := crypto.ContractAddress(deployer, codeHash, nonce)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address:  %s\n", addr)
			fmt.Fprintf(out, "Trie ID:  %s\n", crypto.TrieIDFor(addr, nonce))

			return nil
		},
	}

	cmd.Flags().String("deployer", "", "hex address of the deploying account")
	cmd.Flags().String("code-hash", "", "hex hash of the deployed code")
	cmd.Flags().Uint64("nonce", 0, "deployer nonce at deployment")
	cmd.MarkFlagRequired("deployer")
	cmd.MarkFlagRequired("code-hash")

	return cmd
}

func addressCodeHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "code-hash [file]",
		Short: "Print the hash under which a module would be stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", crypto.CodeHash(code))
			return nil
		},
	}
}
