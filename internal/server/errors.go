package server

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/buenosos/buenosos-server-go/internal/auth"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/repository"
	"github.com/buenosos/buenosos-server-go/internal/table"
)

// Wire error codes that are not engine codes.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeNotFound      = "NOT_FOUND"
	CodeSeatTaken     = "SEAT_TAKEN"
	CodeInternalError = "INTERNAL_ERROR"
)

// apiError is the JSON body of every failed REST call.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps err to an HTTP status, a wire code and a client-safe message.
func classify(err error) (int, string, string) {
	if code, ok := game.CodeOf(err); ok {
		var gameErr *game.Error
		errors.As(err, &gameErr)
		return http.StatusBadRequest, string(code), gameErr.Message
	}

	switch {
	case errors.Is(err, table.ErrBadRequest):
		return http.StatusBadRequest, CodeBadRequest, err.Error()
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, err.Error()
	case errors.Is(err, table.ErrSeatTaken):
		return http.StatusConflict, CodeSeatTaken, err.Error()
	case errors.Is(err, table.ErrGameFinished):
		return http.StatusBadRequest, string(game.CodeGameNotRunning), "game is already finished"
	case errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, string(game.CodeNotAuthorized), "missing Authorization header"
	case errors.Is(err, table.ErrInvalidToken):
		return http.StatusUnauthorized, string(game.CodeNotAuthorized), "invalid token"
	case errors.Is(err, table.ErrForbidden):
		return http.StatusForbidden, string(game.CodeNotAuthorized), err.Error()
	default:
		return http.StatusInternalServerError, CodeInternalError, "internal server error"
	}
}

// grpcError converts err to a gRPC status error.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	if code, ok := game.CodeOf(err); ok {
		switch code {
		case game.CodeInvalidTarget:
			return status.Error(codes.InvalidArgument, err.Error())
		case game.CodeNotAuthorized:
			return status.Error(codes.PermissionDenied, err.Error())
		default:
			return status.Error(codes.FailedPrecondition, err.Error())
		}
	}

	switch {
	case errors.Is(err, table.ErrBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, table.ErrSeatTaken), errors.Is(err, repository.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, table.ErrGameFinished):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, table.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, table.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
