package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/stage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// CompileMethod is the full gRPC method name of Compile
const CompileMethod = "/pipewright.v1.Compiler/Compile"

// CompilerServer is the server API of the pipewright.v1.Compiler service.
//
// Compile takes a struct with "collection", "query" (a raw query string)
// and an optional "lang", and returns "pipeline" and, when total counts are
// enabled, "countPipeline" as relaxed extended JSON values.
type CompilerServer interface {
	Compile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterCompilerServer registers srv on s
func RegisterCompilerServer(s grpc.ServiceRegistrar, srv CompilerServer) {
	s.RegisterService(&compilerServiceDesc, srv)
}

var compilerServiceDesc = grpc.ServiceDesc{
	ServiceName: "pipewright.v1.Compiler",
	HandlerType: (*CompilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Compile",
			Handler:    compileHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pipewright/v1/compiler.proto",
}

func compileHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompilerServer).Compile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CompileMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CompilerServer).Compile(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// CompilerClient is the client API of the pipewright.v1.Compiler service
type CompilerClient struct {
	cc grpc.ClientConnInterface
}

// NewCompilerClient creates a client on cc
func NewCompilerClient(cc grpc.ClientConnInterface) *CompilerClient {
	return &CompilerClient{cc: cc}
}

// Compile calls the Compile method
func (c *CompilerClient) Compile(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CompileMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CompilerService implements CompilerServer on a QueryService
type CompilerService struct {
	service     *QueryService
	queryParser *parser.QueryParser
	logger      *zap.Logger
}

// NewCompilerService creates the gRPC compiler service
func NewCompilerService(service *QueryService, logger *zap.Logger) *CompilerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompilerService{
		service:     service,
		queryParser: parser.NewQueryParser(),
		logger:      logger,
	}
}

// Compile compiles a query without running it
func (s *CompilerService) Compile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	collection := fields["collection"].GetStringValue()
	if collection == "" {
		return nil, status.Error(codeFor(parser.ErrMalformedQuery), "collection is required")
	}

	parsed, err := s.queryParser.ParseString(fields["query"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	lang := fields["lang"].GetStringValue()
	if lang == "" {
		lang = parsed.Lang
	}

	p, err := s.service.Compile(collection, lang, parsed)
	if err != nil {
		s.logger.Debug("Compile RPC failed",
			zap.String("request_id", incomingRequestID(ctx)),
			zap.String("collection", collection),
			zap.Error(err))
		return nil, toStatus(err)
	}

	out := map[string]interface{}{}
	if out["pipeline"], err = stagesValue(p.Stages); err != nil {
		return nil, toStatus(err)
	}
	if p.CountStages != nil {
		if out["countPipeline"], err = stagesValue(p.CountStages); err != nil {
			return nil, toStatus(err)
		}
	}

	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, toStatus(fmt.Errorf("failed to build response: %w", err))
	}
	return resp, nil
}

// stagesValue renders stages into plain JSON values accepted by structpb
func stagesValue(stages []stage.Stage) (interface{}, error) {
	data, err := stage.MarshalJSON(stages)
	if err != nil {
		return nil, err
	}
	var v []interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode rendered pipeline: %w", err)
	}
	return v, nil
}

// incomingRequestID returns the caller's x-request-id metadata, or a new ID
func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDHeader); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.NewString()
}

func toStatus(err error) error {
	return status.Error(codeFor(err), err.Error())
}
