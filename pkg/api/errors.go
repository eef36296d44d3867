package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/pipewright/pipewright/pkg/query/compiler"
	"github.com/pipewright/pipewright/pkg/query/parser"
	"google.golang.org/grpc/codes"
)

// Error types reported to clients
const (
	errTypeParse              = "parse_exception"
	errTypeCollectionNotFound = "collection_not_found_exception"
	errTypeTimeout            = "timeout_exception"
	errTypeEngine             = "engine_exception"
)

// classify maps a service error to its HTTP status, gRPC code and the
// error type reported to the client
func classify(err error) (int, codes.Code, string) {
	switch {
	case errors.Is(err, parser.ErrMalformedQuery):
		return http.StatusBadRequest, codes.InvalidArgument, errTypeParse
	case errors.Is(err, ErrUnknownCollection):
		return http.StatusNotFound, codes.NotFound, errTypeCollectionNotFound
	}

	switch kind := compiler.KindOf(err); kind {
	case compiler.KindInvalidFilterValue, compiler.KindInvalidPagination:
		return http.StatusBadRequest, codes.InvalidArgument, string(kind)
	case compiler.KindUnresolvedRelation:
		return http.StatusInternalServerError, codes.FailedPrecondition, string(kind)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, codes.DeadlineExceeded, errTypeTimeout
	}
	return http.StatusBadGateway, codes.Unavailable, errTypeEngine
}

func codeFor(err error) codes.Code {
	_, code, _ := classify(err)
	return code
}
