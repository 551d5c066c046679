package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Both services exchange google.protobuf.Struct messages, so the descriptors
// are declared here instead of generated from .proto files.
const (
	AvailabilityServiceName = "appointly.availability.v1.AvailabilityService"
	ScheduleServiceName     = "appointly.schedule.v1.ScheduleService"
)

func unary[S any](service, method string, call func(S, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type AvailabilityServiceServer interface {
	CalculateAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	IsTimeSlotAvailable(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ValidateBookingRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetNextAvailableSlot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CreateBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RescheduleBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpdateBookingStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	InvalidateCache(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	WarmUpCache(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetCacheStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var AvailabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: AvailabilityServiceName,
	HandlerType: (*AvailabilityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AvailabilityServiceName, "CalculateAvailability", AvailabilityServiceServer.CalculateAvailability),
		unary(AvailabilityServiceName, "IsTimeSlotAvailable", AvailabilityServiceServer.IsTimeSlotAvailable),
		unary(AvailabilityServiceName, "ValidateBookingRequest", AvailabilityServiceServer.ValidateBookingRequest),
		unary(AvailabilityServiceName, "GetNextAvailableSlot", AvailabilityServiceServer.GetNextAvailableSlot),
		unary(AvailabilityServiceName, "CreateBooking", AvailabilityServiceServer.CreateBooking),
		unary(AvailabilityServiceName, "RescheduleBooking", AvailabilityServiceServer.RescheduleBooking),
		unary(AvailabilityServiceName, "CancelBooking", AvailabilityServiceServer.CancelBooking),
		unary(AvailabilityServiceName, "UpdateBookingStatus", AvailabilityServiceServer.UpdateBookingStatus),
		unary(AvailabilityServiceName, "InvalidateCache", AvailabilityServiceServer.InvalidateCache),
		unary(AvailabilityServiceName, "WarmUpCache", AvailabilityServiceServer.WarmUpCache),
		unary(AvailabilityServiceName, "GetCacheStats", AvailabilityServiceServer.GetCacheStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "appointly/availability/v1/availability.proto",
}

func RegisterAvailabilityServiceServer(s grpc.ServiceRegistrar, srv AvailabilityServiceServer) {
	s.RegisterService(&AvailabilityServiceDesc, srv)
}

type ScheduleServiceServer interface {
	ListWeeklyAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetWeeklyAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpsertWeeklyRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpdateWeeklyRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DeleteWeeklyRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListExceptions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CreateException(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpsertException(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DeleteException(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DeleteExceptionRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpsertService(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var ScheduleServiceDesc = grpc.ServiceDesc{
	ServiceName: ScheduleServiceName,
	HandlerType: (*ScheduleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ScheduleServiceName, "ListWeeklyAvailability", ScheduleServiceServer.ListWeeklyAvailability),
		unary(ScheduleServiceName, "SetWeeklyAvailability", ScheduleServiceServer.SetWeeklyAvailability),
		unary(ScheduleServiceName, "UpsertWeeklyRule", ScheduleServiceServer.UpsertWeeklyRule),
		unary(ScheduleServiceName, "UpdateWeeklyRule", ScheduleServiceServer.UpdateWeeklyRule),
		unary(ScheduleServiceName, "DeleteWeeklyRule", ScheduleServiceServer.DeleteWeeklyRule),
		unary(ScheduleServiceName, "ListExceptions", ScheduleServiceServer.ListExceptions),
		unary(ScheduleServiceName, "CreateException", ScheduleServiceServer.CreateException),
		unary(ScheduleServiceName, "UpsertException", ScheduleServiceServer.UpsertException),
		unary(ScheduleServiceName, "DeleteException", ScheduleServiceServer.DeleteException),
		unary(ScheduleServiceName, "DeleteExceptionRange", ScheduleServiceServer.DeleteExceptionRange),
		unary(ScheduleServiceName, "UpsertService", ScheduleServiceServer.UpsertService),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "appointly/schedule/v1/schedule.proto",
}

func RegisterScheduleServiceServer(s grpc.ServiceRegistrar, srv ScheduleServiceServer) {
	s.RegisterService(&ScheduleServiceDesc, srv)
}
