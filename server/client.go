package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a runner service over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a runner service at addr ("host:port") without TLS.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run runs a program remotely.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunReply, error) {
	msg, err := req.toStruct()
	if err != nil {
		return nil, err
	}
	var out structpb.Struct
	if err := c.conn.Invoke(ctx, RunProcedure, msg, &out); err != nil {
		return nil, err
	}
	return runReplyFrom(&out), nil
}

// Store uploads an artifact in text form and returns its hash.
func (c *Client) Store(ctx context.Context, text string) (string, error) {
	msg, err := structpb.NewStruct(map[string]any{"artifact": text})
	if err != nil {
		return "", err
	}
	var out structpb.Struct
	if err := c.conn.Invoke(ctx, StoreProcedure, msg, &out); err != nil {
		return "", err
	}
	return str(&out, "hash"), nil
}

// List returns the programs in the remote store.
func (c *Client) List(ctx context.Context) ([]StoredProgram, error) {
	var out structpb.Struct
	if err := c.conn.Invoke(ctx, ListProcedure, &structpb.Struct{}, &out); err != nil {
		return nil, err
	}
	var programs []StoredProgram
	for _, v := range out.GetFields()["programs"].GetListValue().GetValues() {
		p := v.GetStructValue()
		programs = append(programs, StoredProgram{
			Hash: str(p, "hash"),
			Name: str(p, "name"),
			Size: int64(p.GetFields()["size"].GetNumberValue()),
		})
	}
	return programs, nil
}
