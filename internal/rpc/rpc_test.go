package rpc

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v29"
	"github.com/echenim/Bedrock/contracts/internal/codecache"
	"github.com/echenim/Bedrock/contracts/internal/execution"
	"github.com/echenim/Bedrock/contracts/internal/gas"
	"github.com/echenim/Bedrock/contracts/internal/ledger"
	"github.com/echenim/Bedrock/contracts/internal/sandbox"
	"github.com/echenim/Bedrock/contracts/internal/storage"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// --- Test helpers ---

// storeWAT writes "v1" under "k" on deploy and echoes its input on call.
const storeWAT = `(module
  (import "env" "ext_set_storage" (func $set (param i32 i32 i32 i32)))
  (import "env" "ext_input" (func $input))
  (import "env" "ext_scratch_size" (func $ssize (result i32)))
  (import "env" "ext_scratch_read" (func $sread (param i32 i32 i32)))
  (import "env" "ext_return" (func $ret (param i32 i32)))
  (memory (export "memory") 1)
  (data (i32.const 0) "k")
  (data (i32.const 8) "v1")
  (func (export "deploy")
    (call $set (i32.const 0) (i32.const 1) (i32.const 8) (i32.const 2)))
  (func (export "call")
    (local $n i32)
    (call $input)
    (local.set $n (call $ssize))
    (call $sread (i32.const 64) (i32.const 0) (local.get $n))
    (call $ret (i32.const 64) (local.get $n))))`

var (
	origin     = types.Address{0xa1}
	originHex  = origin.String()
	testHeight = BlockParams{Height: 1, Timestamp: 1_700_000_000}
)

func testService(t *testing.T) *Service {
	t.Helper()
	engine, err := sandbox.NewEngine(gas.DefaultSchedule(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	store := storage.NewMemStore()
	cache, err := codecache.New(engine, store, 8, nil, nil)
	if err != nil {
		t.Fatalf("codecache.New: %v", err)
	}
	accounts := ledger.New(store)
	if err := accounts.SetBalance(origin, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	exec, err := execution.New(execution.Deps{
		Engine: engine,
		Code:   cache,
		State:  store,
	}, nil, nil)
	if err != nil {
		t.Fatalf("execution.New: %v", err)
	}
	return NewService(exec, nil)
}

func storeCode(t *testing.T) string {
	t.Helper()
	code, err := wasmtime.Wat2Wasm(storeWAT)
	if err != nil {
		t.Fatalf("wat2wasm: %v", err)
	}
	return hex.EncodeToString(code)
}

// deployStore uploads and instantiates storeWAT, returning its address.
func deployStore(t *testing.T, svc ExecutiveServer) string {
	t.Helper()
	ctx := context.Background()
	up, err := svc.UploadCode(ctx, &UploadCodeRequest{Code: storeCode(t)})
	if err != nil {
		t.Fatalf("UploadCode: %v", err)
	}
	resp, err := svc.Instantiate(ctx, &InstantiateRequest{
		Block:    testHeight,
		Origin:   originHex,
		CodeHash: up.CodeHash,
		GasLimit: 1_000_000,
	})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if resp.Result != "success" || resp.Address == "" {
		t.Fatalf("Instantiate: %+v", resp)
	}
	return resp.Address
}

func startTestServer(t *testing.T, svc *Service) (addr string, cleanup func()) {
	t.Helper()
	server := NewServer("127.0.0.1:0", 5*time.Second, nil)
	server.RegisterService(svc)

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return server.GRPCAddr(), func() { server.Stop() }
}

func dialGRPC(t *testing.T, addr string) *Client {
	t.Helper()
	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial grpc: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// --- Service unit tests ---

func TestInstantiateAndCall(t *testing.T) {
	svc := testService(t)
	addr := deployStore(t, svc)

	resp, err := svc.Call(context.Background(), &CallRequest{
		Block:    testHeight,
		Origin:   originHex,
		Dest:     addr,
		GasLimit: 1_000_000,
		Data:     hex.EncodeToString([]byte("echo")),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Result != "success" {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.Output != hex.EncodeToString([]byte("echo")) {
		t.Errorf("expected echoed output, got %s", resp.Output)
	}
	if resp.GasUsed == 0 {
		t.Error("expected non-zero gas used")
	}
}

func TestInstantiateUnknownCode(t *testing.T) {
	svc := testService(t)

	resp, err := svc.Instantiate(context.Background(), &InstantiateRequest{
		Origin:   originHex,
		CodeHash: types.Hash{0x01}.String(),
		GasLimit: 1000,
	})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if resp.Result != "trap" || resp.Trap != "code_not_found" {
		t.Errorf("expected trap(code_not_found), got %+v", resp)
	}
	if resp.GasUsed != 0 {
		t.Errorf("expected zero gas, got %d", resp.GasUsed)
	}
}

func TestUploadCodeInvalid(t *testing.T) {
	svc := testService(t)

	_, err := svc.UploadCode(context.Background(), &UploadCodeRequest{Code: "00616263"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	_, err = svc.UploadCode(context.Background(), &UploadCodeRequest{Code: "zz"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for bad hex, got %v", err)
	}
}

func TestCallInvalidArguments(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *CallRequest
	}{
		{"bad origin", &CallRequest{Origin: "xyz", Dest: originHex}},
		{"short dest", &CallRequest{Origin: originHex, Dest: "abcd"}},
		{"bad value", &CallRequest{Origin: originHex, Dest: originHex, Value: "-1"}},
		{"bad data", &CallRequest{Origin: originHex, Dest: originHex, Data: "q"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Call(ctx, tc.req)
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestCallCancelledContext(t *testing.T) {
	svc := testService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Call(ctx, &CallRequest{Origin: originHex, Dest: originHex})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expected Canceled, got %v", err)
	}
}

func TestGetContractAndStorage(t *testing.T) {
	svc := testService(t)
	addr := deployStore(t, svc)
	ctx := context.Background()

	info, err := svc.GetContract(ctx, &GetContractRequest{Address: addr})
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if !info.Found || info.StorageSize != 3 {
		t.Errorf("unexpected contract record %+v", info)
	}

	v, err := svc.GetStorage(ctx, &GetStorageRequest{Address: addr, Key: hex.EncodeToString([]byte("k"))})
	if err != nil {
		t.Fatalf("GetStorage: %v", err)
	}
	if !v.Found || v.Value != hex.EncodeToString([]byte("v1")) {
		t.Errorf("unexpected storage value %+v", v)
	}

	v, err = svc.GetStorage(ctx, &GetStorageRequest{Address: addr, Key: "00"})
	if err != nil {
		t.Fatalf("GetStorage: %v", err)
	}
	if v.Found {
		t.Error("expected missing key")
	}

	none, err := svc.GetContract(ctx, &GetContractRequest{Address: originHex})
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if none.Found {
		t.Error("plain account has no contract record")
	}
}

func TestGetBalance(t *testing.T) {
	svc := testService(t)

	resp, err := svc.GetBalance(context.Background(), &GetBalanceRequest{Address: originHex})
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if resp.Balance != "1000000" {
		t.Errorf("expected balance 1000000, got %s", resp.Balance)
	}
}

// --- gRPC integration tests ---

func TestGRPCInstantiateAndCall(t *testing.T) {
	svc := testService(t)
	addr, cleanup := startTestServer(t, svc)
	defer cleanup()

	client := dialGRPC(t, addr)
	contract := deployStore(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Call(ctx, &CallRequest{
		Block:    testHeight,
		Origin:   originHex,
		Dest:     contract,
		GasLimit: 1_000_000,
		Data:     "0102",
	})
	if err != nil {
		t.Fatalf("gRPC Call: %v", err)
	}
	if resp.Result != "success" || resp.Output != "0102" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestGRPCGetBalance(t *testing.T) {
	svc := testService(t)
	addr, cleanup := startTestServer(t, svc)
	defer cleanup()

	client := dialGRPC(t, addr)

	resp, err := client.GetBalance(context.Background(), &GetBalanceRequest{Address: originHex})
	if err != nil {
		t.Fatalf("gRPC GetBalance: %v", err)
	}
	if resp.Balance != "1000000" {
		t.Errorf("expected balance 1000000, got %s", resp.Balance)
	}
}

func TestGRPCInvalidArgument(t *testing.T) {
	svc := testService(t)
	addr, cleanup := startTestServer(t, svc)
	defer cleanup()

	client := dialGRPC(t, addr)

	_, err := client.GetBalance(context.Background(), &GetBalanceRequest{Address: "nope"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

// --- Interceptors ---

func TestRecoveryInterceptor(t *testing.T) {
	intercept := RecoveryUnaryInterceptor(nopLogger())
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Panic"}

	_, err := intercept(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestTimeoutInterceptor(t *testing.T) {
	intercept := TimeoutUnaryInterceptor(time.Minute)
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Deadline"}

	_, err := intercept(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected a deadline")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}

	none := TimeoutUnaryInterceptor(0)
	none(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("zero timeout must not set a deadline")
		}
		return nil, nil
	})
}

// --- Server lifecycle tests ---

func TestServerStartStop(t *testing.T) {
	server := NewServer("127.0.0.1:0", 0, nil)
	server.RegisterService(testService(t))

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	addr := server.GRPCAddr()
	if addr == "" || addr == "127.0.0.1:0" {
		t.Fatalf("expected bound address, got %q", addr)
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestServerName(t *testing.T) {
	server := NewServer("127.0.0.1:0", 0, nil)
	if server.Name() != "rpc" {
		t.Errorf("expected name=rpc, got %s", server.Name())
	}
}
