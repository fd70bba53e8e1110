package grpc

import (
	"errors"

	"github.com/pengine/pengine/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var statusCodes = []struct {
	err  error
	code codes.Code
}{
	{common.ErrorNotFound, codes.NotFound},
	{common.ErrorUnauthorized, codes.Unauthenticated},
	{common.ErrSecondFactorRequired, codes.Unauthenticated},
	{common.ErrTokenExpired, codes.Unauthenticated},
	{common.ErrRefreshTokenExpired, codes.Unauthenticated},
	{common.ErrInvalidToken, codes.Unauthenticated},
	{common.ErrorForbidden, codes.PermissionDenied},
	{common.ErrWrongContentPassword, codes.PermissionDenied},
	{common.ErrSignCountRegression, codes.PermissionDenied},
	{common.ErrorValidation, codes.InvalidArgument},
	{common.ErrorWeakPassword, codes.InvalidArgument},
	{common.ErrTOTPAlreadyEnabled, codes.FailedPrecondition},
	{common.ErrTOTPNotPending, codes.FailedPrecondition},
}

// ToStatus converts a service error into a gRPC status error. Unknown
// errors become codes.Internal without their text, so driver messages
// never reach clients.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, m := range statusCodes {
		if errors.Is(err, m.err) {
			return status.Error(m.code, m.err.Error())
		}
	}
	return status.Error(codes.Internal, common.ErrorInternal.Error())
}
