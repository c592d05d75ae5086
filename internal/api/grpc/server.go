// Package grpcapi exposes the conversion pipeline as notation.v1.ConversionService.
// Messages are protobuf well-known types: Convert takes the raw upload as a
// BytesValue with request options in metadata, and both methods answer with
// a Struct mirroring the HTTP JSON responses.
package grpcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/observability/logging"
	"audio-notation-service/internal/service/conversion"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "notation.v1.ConversionService"

// Metadata keys carrying Convert options.
const (
	MetaFilename      = "x-filename"
	MetaTransposition = "x-transposition"
	MetaSimplify      = "x-simplify"
	MetaTempoBPM      = "x-tempo-bpm"
)

// ConversionServer is the server API for notation.v1.ConversionService.
type ConversionServer interface {
	Convert(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	GetJob(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// ServiceDesc describes notation.v1.ConversionService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Convert", Handler: convertHandler},
		{MethodName: "GetJob", Handler: getJobHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "notation/v1/conversion.proto",
}

func convertHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConversionServer).Convert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Convert"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConversionServer).Convert(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getJobHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConversionServer).GetJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetJob"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConversionServer).GetJob(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements ConversionServer on top of the conversion service.
type Server struct {
	svc    *conversion.Service
	logger zerolog.Logger
}

// Register adds the conversion service to g.
func Register(g *grpc.Server, svc *conversion.Service) {
	g.RegisterService(&ServiceDesc, &Server{
		svc:    svc,
		logger: logging.WithComponent("grpc"),
	})
}

// Convert runs one conversion on the uploaded bytes.
func (s *Server) Convert(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	req := conversion.Request{
		Filename:      first(md, MetaFilename),
		Body:          bytes.NewReader(in.GetValue()),
		Size:          int64(len(in.GetValue())),
		Transposition: first(md, MetaTransposition),
		Source:        conversion.SourceGRPC,
	}
	if len(in.GetValue()) == 0 {
		req.Body = nil
	}
	if v := first(md, MetaSimplify); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, toStatus(apperrors.InvalidRequest("%s must be a boolean, got %q", MetaSimplify, v))
		}
		req.Simplify = b
	}
	if v := first(md, MetaTempoBPM); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, toStatus(apperrors.InvalidRequest("%s must be an integer, got %q", MetaTempoBPM, v))
		}
		req.TempoBPM = n
	}

	res, err := s.svc.Convert(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"job_id":                  res.JobID,
		"metadata":                res.Metadata,
		"artifacts":               res.Artifacts,
		"rendered":                res.Rendered,
		"truncated":               res.Truncated,
		"source_duration_seconds": res.SourceDuration.Seconds(),
	})
}

// GetJob reports a job's stage, artifacts and metadata.
func (s *Server) GetJob(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	st, err := s.svc.Lookup(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{
		"job_id":    st.JobID,
		"stage":     st.Stage.String(),
		"artifacts": st.Artifacts,
	}
	if st.Metadata != nil {
		out["metadata"] = st.Metadata
	}
	if !st.CreatedAt.IsZero() {
		out["created_at"] = st.CreatedAt
	}
	return toStruct(out)
}

// Code maps an error kind to a gRPC status code.
func Code(kind apperrors.Kind) codes.Code {
	switch kind {
	case apperrors.KindInvalidRequest, apperrors.KindUnsupportedFormat:
		return codes.InvalidArgument
	case apperrors.KindInputTooLarge:
		return codes.ResourceExhausted
	case apperrors.KindInputTooLong, apperrors.KindPitchDetectionFailed:
		return codes.FailedPrecondition
	case apperrors.KindJobNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

func toStatus(err error) error {
	classified := apperrors.Classify(err)
	return status.Error(Code(classified.Kind), classified.Message)
}

// toStruct converts v through its JSON form so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "could not encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, "could not encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "could not encode response")
	}
	return out, nil
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
