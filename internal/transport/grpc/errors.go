package grpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"appointly/backend/internal/domain"
)

// statusError maps domain errors onto gRPC codes. Conflicts carry their
// reasons and suggestion as a Struct detail so clients can render them.
func statusError(log *slog.Logger, err error) error {
	var (
		vErr *domain.ValidationError
		nErr *domain.NotFoundError
		cErr *domain.ConflictError
	)
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", slog.Any("err", err))
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.As(err, &nErr):
		log.Info("not found", slog.String("resource", nErr.Resource), slog.String("id", nErr.ID))
		return status.Error(codes.NotFound, nErr.Error())
	case errors.As(err, &cErr):
		code := codes.FailedPrecondition
		if cErr.Race {
			code = codes.Aborted
		}
		log.Info("conflict", slog.Any("reasons", cErr.Reasons), slog.Bool("race", cErr.Race))
		return conflictStatus(code, cErr)
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request timed out", slog.Any("err", err))
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	}
	log.Error("request failed", slog.Any("err", err))
	return status.Error(codes.Internal, "internal error")
}

func conflictStatus(code codes.Code, cErr *domain.ConflictError) error {
	st := status.New(code, cErr.Error())
	detail, err := structpb.NewStruct(map[string]any{
		"reasons":    stringList(cErr.Reasons),
		"suggestion": slotRefValue(cErr.Suggestion),
		"race":       cErr.Race,
	})
	if err != nil {
		return st.Err()
	}
	withDetail, err := st.WithDetails(detail)
	if err != nil {
		return st.Err()
	}
	return withDetail.Err()
}

func invalid(log *slog.Logger, reason string, msg string) error {
	log.Warn("invalid request", slog.String("reason", reason))
	return status.Error(codes.InvalidArgument, msg)
}
