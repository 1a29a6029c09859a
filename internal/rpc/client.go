package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a gRPC client of the Executive service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to an Executive service at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Call(ctx context.Context, req *CallRequest) (*ExecResponse, error) {
	return invoke[ExecResponse](ctx, c, "Call", req)
}

func (c *Client) Instantiate(ctx context.Context, req *InstantiateRequest) (*ExecResponse, error) {
	return invoke[ExecResponse](ctx, c, "Instantiate", req)
}

func (c *Client) UploadCode(ctx context.Context, req *UploadCodeRequest) (*UploadCodeResponse, error) {
	return invoke[UploadCodeResponse](ctx, c, "UploadCode", req)
}

func (c *Client) GetContract(ctx context.Context, req *GetContractRequest) (*GetContractResponse, error) {
	return invoke[GetContractResponse](ctx, c, "GetContract", req)
}

func (c *Client) GetStorage(ctx context.Context, req *GetStorageRequest) (*GetStorageResponse, error) {
	return invoke[GetStorageResponse](ctx, c, "GetStorage", req)
}

func (c *Client) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	return invoke[GetBalanceResponse](ctx, c, "GetBalance", req)
}
