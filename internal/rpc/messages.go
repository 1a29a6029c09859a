package rpc

import (
	"encoding/hex"
	"fmt"

	"github.com/echenim/Bedrock/contracts/internal/execution"
	"github.com/echenim/Bedrock/contracts/internal/types"
)

// Byte strings are hex encoded and balances are base-10 strings.

// BlockParams is the block a dispatch executes in.
type BlockParams struct {
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
}

func (b BlockParams) block() types.Block {
	return types.Block{Height: b.Height, Timestamp: b.Timestamp}
}

// CallRequest calls an existing account.
type CallRequest struct {
	Block    BlockParams `json:"block"`
	Origin   string      `json:"origin"`
	Dest     string      `json:"dest"`
	Value    string      `json:"value,omitempty"`
	GasLimit uint64      `json:"gas_limit"`
	Data     string      `json:"data,omitempty"`
}

// InstantiateRequest deploys uploaded code.
type InstantiateRequest struct {
	Block         BlockParams `json:"block"`
	Origin        string      `json:"origin"`
	CodeHash      string      `json:"code_hash"`
	Endowment     string      `json:"endowment,omitempty"`
	GasLimit      uint64      `json:"gas_limit"`
	Data          string      `json:"data,omitempty"`
	RentAllowance string      `json:"rent_allowance,omitempty"`
}

// Event is a deposited contract event.
type Event struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// ExecResponse reports the outcome of a call or instantiation.
type ExecResponse struct {
	Result  string  `json:"result"`
	Trap    string  `json:"trap,omitempty"`
	Output  string  `json:"output,omitempty"`
	GasUsed uint64  `json:"gas_used"`
	Address string  `json:"address,omitempty"`
	Events  []Event `json:"events,omitempty"`
}

// UploadCodeRequest carries a wasm module.
type UploadCodeRequest struct {
	Code string `json:"code"`
}

// UploadCodeResponse returns the hash of stored code.
type UploadCodeResponse struct {
	CodeHash string `json:"code_hash"`
}

// GetContractRequest names a contract account.
type GetContractRequest struct {
	Address string `json:"address"`
}

// GetContractResponse is the committed record of a contract.
type GetContractResponse struct {
	Found           bool   `json:"found"`
	CodeHash        string `json:"code_hash,omitempty"`
	TrieID          string `json:"trie_id,omitempty"`
	RentAllowance   string `json:"rent_allowance,omitempty"`
	LastWriteHeight uint64 `json:"last_write_height,omitempty"`
	DeductHeight    uint64 `json:"deduct_height,omitempty"`
	StorageSize     uint64 `json:"storage_size,omitempty"`
}

// GetStorageRequest reads one key of a contract.
type GetStorageRequest struct {
	Address string `json:"address"`
	Key     string `json:"key"`
}

// GetStorageResponse is the committed value of a key.
type GetStorageResponse struct {
	Found bool   `json:"found"`
	Value string `json:"value,omitempty"`
}

// GetBalanceRequest names an account.
type GetBalanceRequest struct {
	Address string `json:"address"`
}

// GetBalanceResponse is the free balance of an account.
type GetBalanceResponse struct {
	Balance string `json:"balance"`
}

func hexString(b []byte) string { return hex.EncodeToString(b) }

func decodeHex(field, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid hex: %w", field, err)
	}
	return b, nil
}

func decodeAddress(field, s string) (types.Address, error) {
	a, err := types.AddressFromHex(s)
	if err != nil {
		return types.ZeroAddress, fmt.Errorf("%s: %w", field, err)
	}
	return a, nil
}

func (r *CallRequest) toExecution() (execution.CallRequest, error) {
	var out execution.CallRequest
	var err error
	if out.Origin, err = decodeAddress("origin", r.Origin); err != nil {
		return out, err
	}
	if out.Dest, err = decodeAddress("dest", r.Dest); err != nil {
		return out, err
	}
	if out.Value, err = types.BalanceFromDecimal(r.Value); err != nil {
		return out, fmt.Errorf("value: %w", err)
	}
	if out.Data, err = decodeHex("data", r.Data); err != nil {
		return out, err
	}
	out.GasLimit = r.GasLimit
	return out, nil
}

func (r *InstantiateRequest) toExecution() (execution.InstantiateRequest, error) {
	var out execution.InstantiateRequest
	var err error
	if out.Origin, err = decodeAddress("origin", r.Origin); err != nil {
		return out, err
	}
	if out.CodeHash, err = types.HashFromHex(r.CodeHash); err != nil {
		return out, fmt.Errorf("code_hash: %w", err)
	}
	if out.Endowment, err = types.BalanceFromDecimal(r.Endowment); err != nil {
		return out, fmt.Errorf("endowment: %w", err)
	}
	if r.RentAllowance != "" {
		if out.RentAllowance, err = types.BalanceFromDecimal(r.RentAllowance); err != nil {
			return out, fmt.Errorf("rent_allowance: %w", err)
		}
	}
	if out.Data, err = decodeHex("data", r.Data); err != nil {
		return out, err
	}
	out.GasLimit = r.GasLimit
	return out, nil
}

func execResponse(out *execution.Outcome) *ExecResponse {
	resp := &ExecResponse{
		Result:  out.Result.Kind.String(),
		Output:  hex.EncodeToString(out.Result.Data),
		GasUsed: out.GasUsed,
	}
	if out.Result.Kind == types.ResultTrap {
		resp.Trap = out.Result.Reason.String()
	}
	if !out.Address.IsZero() {
		resp.Address = out.Address.String()
	}
	for _, ev := range out.Events {
		e := Event{Address: ev.Address.String(), Data: hex.EncodeToString(ev.Data)}
		for _, t := range ev.Topics {
			e.Topics = append(e.Topics, t.String())
		}
		resp.Events = append(resp.Events, e)
	}
	return resp
}

func contractResponse(info *types.ContractInfo) *GetContractResponse {
	if info == nil {
		return &GetContractResponse{}
	}
	resp := &GetContractResponse{
		Found:           true,
		CodeHash:        info.CodeHash.String(),
		TrieID:          info.TrieID.String(),
		LastWriteHeight: info.LastWriteHeight,
		DeductHeight:    info.DeductHeight,
		StorageSize:     info.StorageSize,
	}
	if info.RentAllowance != nil {
		resp.RentAllowance = info.RentAllowance.Dec()
	}
	return resp
}
