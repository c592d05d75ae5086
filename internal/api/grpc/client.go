package grpcapi

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ConvertOptions are sent as request metadata.
type ConvertOptions struct {
	Filename      string
	Transposition string
	Simplify      bool
	TempoBPM      int
}

// Client is the client API for notation.v1.ConversionService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Convert uploads audio and waits for the finished conversion.
func (c *Client) Convert(ctx context.Context, audio []byte, opts ConvertOptions, callOpts ...grpc.CallOption) (*structpb.Struct, error) {
	pairs := []string{MetaFilename, opts.Filename}
	if opts.Transposition != "" {
		pairs = append(pairs, MetaTransposition, opts.Transposition)
	}
	if opts.Simplify {
		pairs = append(pairs, MetaSimplify, "true")
	}
	if opts.TempoBPM > 0 {
		pairs = append(pairs, MetaTempoBPM, strconv.Itoa(opts.TempoBPM))
	}
	ctx = metadata.AppendToOutgoingContext(ctx, pairs...)

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Convert", wrapperspb.Bytes(audio), out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetJob fetches a job's status.
func (c *Client) GetJob(ctx context.Context, jobID string, callOpts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetJob", wrapperspb.String(jobID), out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}
