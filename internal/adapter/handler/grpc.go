package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/hive-corporation/sitescan/internal/core/domain"
	"github.com/hive-corporation/sitescan/internal/core/ports"
	"github.com/hive-corporation/sitescan/internal/core/service"
)

// ScanAnalyzerServiceName is the fully qualified gRPC service name.
const ScanAnalyzerServiceName = "sitescan.v1.ScanAnalyzer"

const (
	analyzeMethod   = "/" + ScanAnalyzerServiceName + "/Analyze"
	summarizeMethod = "/" + ScanAnalyzerServiceName + "/Summarize"
)

// ScanAnalyzerServer is the server side of sitescan.v1.ScanAnalyzer. Scans
// and summaries travel as google.protobuf.Struct holding their JSON form.
type ScanAnalyzerServer interface {
	Analyze(ctx context.Context, scan *structpb.Struct) (*structpb.Struct, error)
	Summarize(ctx context.Context, scanID *wrapperspb.StringValue) (*structpb.Struct, error)
}

// ScanAnalyzerServiceDesc describes sitescan.v1.ScanAnalyzer for grpc.Server.
var ScanAnalyzerServiceDesc = grpc.ServiceDesc{
	ServiceName: ScanAnalyzerServiceName,
	HandlerType: (*ScanAnalyzerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: analyzeHandler},
		{MethodName: "Summarize", Handler: summarizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sitescan/v1/scan_analyzer.proto",
}

// RegisterScanAnalyzerServer registers srv on s.
func RegisterScanAnalyzerServer(s grpc.ServiceRegistrar, srv ScanAnalyzerServer) {
	s.RegisterService(&ScanAnalyzerServiceDesc, srv)
}

func analyzeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScanAnalyzerServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: analyzeMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ScanAnalyzerServer).Analyze(ctx, req.(*structpb.Struct))
	})
}

func summarizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScanAnalyzerServer).Summarize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: summarizeMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ScanAnalyzerServer).Summarize(ctx, req.(*wrapperspb.StringValue))
	})
}

// GrpcServer serves ScanAnalyzer over gRPC.
type GrpcServer struct {
	scans ScanAnalyzer
	log   *zap.Logger
}

func NewGrpcServer(scans ScanAnalyzer, logger *zap.Logger) *GrpcServer {
	return &GrpcServer{
		scans: scans,
		log:   logger.Named("grpc"),
	}
}

func (s *GrpcServer) Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var scan domain.ScanResult
	if err := fromStruct(req, &scan); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid scan: %v", err)
	}

	summary, err := s.scans.Analyze(ctx, scan)
	if err != nil {
		return nil, s.statusError(err, "failed to analyze scan")
	}
	return s.summaryStruct(summary)
}

func (s *GrpcServer) Summarize(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "scan id cannot be empty")
	}

	summary, err := s.scans.Summarize(ctx, req.GetValue())
	if err != nil {
		return nil, s.statusError(err, "failed to load scan")
	}
	return s.summaryStruct(summary)
}

func (s *GrpcServer) summaryStruct(summary domain.ScanSummary) (*structpb.Struct, error) {
	out, err := toStruct(summary)
	if err != nil {
		s.log.Error("Failed to encode summary", zap.String("scan_id", summary.ScanID), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to encode summary")
	}
	return out, nil
}

func (s *GrpcServer) statusError(err error, fallback string) error {
	switch {
	case errors.Is(err, ports.ErrScanNotFound):
		return status.Error(codes.NotFound, "scan not found")
	case errors.Is(err, service.ErrInvalidTarget):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrNoArchive), errors.Is(err, service.ErrNoSource):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, fallback)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, fallback)
	default:
		s.log.Error(fallback, zap.Error(err))
		return status.Error(codes.Internal, fallback)
	}
}

// ScanAnalyzerClient calls a remote sitescan.v1.ScanAnalyzer.
type ScanAnalyzerClient struct {
	conn grpc.ClientConnInterface
}

func NewScanAnalyzerClient(conn grpc.ClientConnInterface) *ScanAnalyzerClient {
	return &ScanAnalyzerClient{conn: conn}
}

// Analyze sends scan to the server and decodes the returned summary.
func (c *ScanAnalyzerClient) Analyze(ctx context.Context, scan domain.ScanResult, opts ...grpc.CallOption) (domain.ScanSummary, error) {
	in, err := toStruct(scan)
	if err != nil {
		return domain.ScanSummary{}, fmt.Errorf("failed to encode scan: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, analyzeMethod, in, out, opts...); err != nil {
		return domain.ScanSummary{}, err
	}
	return decodeSummary(out)
}

// Summarize asks the server for the summary of an archived or remote scan.
func (c *ScanAnalyzerClient) Summarize(ctx context.Context, scanID string, opts ...grpc.CallOption) (domain.ScanSummary, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, summarizeMethod, wrapperspb.String(scanID), out, opts...); err != nil {
		return domain.ScanSummary{}, err
	}
	return decodeSummary(out)
}

func decodeSummary(s *structpb.Struct) (domain.ScanSummary, error) {
	var summary domain.ScanSummary
	if err := fromStruct(s, &summary); err != nil {
		return domain.ScanSummary{}, fmt.Errorf("failed to decode summary: %w", err)
	}
	return summary, nil
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStruct(s *structpb.Struct, v interface{}) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
