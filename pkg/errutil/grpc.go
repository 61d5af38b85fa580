package errutil

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain tags the ErrorInfo detail attached to gRPC status errors.
const ErrorDomain = "ispbss"

var grpcCodes = map[CoreStatus]codes.Code{
	StatusBadRequest:           codes.InvalidArgument,
	StatusValidationFailed:     codes.InvalidArgument,
	StatusUnsupportedMediaType: codes.InvalidArgument,
	StatusUnauthorized:         codes.Unauthenticated,
	StatusForbidden:            codes.PermissionDenied,
	StatusNotFound:             codes.NotFound,
	StatusConflict:             codes.AlreadyExists,
	StatusUnprocessableEntity:  codes.FailedPrecondition,
	StatusTooManyRequests:      codes.ResourceExhausted,
	StatusClientClosedRequest:  codes.Canceled,
	StatusTimeout:              codes.DeadlineExceeded,
	StatusGatewayTimeout:       codes.DeadlineExceeded,
	StatusNotImplemented:       codes.Unimplemented,
	StatusBadGateway:           codes.Unavailable,
	StatusServiceUnavailable:   codes.Unavailable,
	StatusInternal:             codes.Internal,
}

// GRPCCode maps s onto a gRPC code. Unmapped statuses are Unknown.
func (s CoreStatus) GRPCCode() codes.Code {
	if c, ok := grpcCodes[s]; ok {
		return c
	}
	return codes.Unknown
}

// ToGRPCError converts err into a gRPC status error. A BaseError keeps its
// message and field details, any error exposing Status() keeps its code, and
// everything else is reported as internal without leaking the cause.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var base BaseError
	if errors.As(err, &base) {
		return withDetails(status.New(base.Code.GRPCCode(), base.Message), base.Code, base.Details)
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		code := coder.Status()
		return withDetails(status.New(code.GRPCCode(), err.Error()), code, nil)
	}

	return status.Error(codes.Internal, "internal error")
}

func withDetails(st *status.Status, code CoreStatus, details []Detail) error {
	info := &errdetails.ErrorInfo{Reason: string(code), Domain: ErrorDomain}
	if len(details) == 0 {
		if withInfo, err := st.WithDetails(info); err == nil {
			return withInfo.Err()
		}
		return st.Err()
	}

	violations := make([]*errdetails.BadRequest_FieldViolation, 0, len(details))
	for _, d := range details {
		violations = append(violations, &errdetails.BadRequest_FieldViolation{
			Field:       d.Field,
			Description: d.Message,
		})
	}
	withInfo, err := st.WithDetails(info, &errdetails.BadRequest{FieldViolations: violations})
	if err != nil {
		return st.Err()
	}
	return withInfo.Err()
}
