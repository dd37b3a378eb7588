package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const orderServiceName = "orders.v1.OrderService"

type OrderServiceServer interface {
	PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderResponse, error)
	GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error)
}

type GRPCHandler struct {
	orders OrderPlacer
	logger *zap.Logger
}

func NewGRPCHandler(orders OrderPlacer, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{orders: orders, logger: logger}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderResponse, error) {
	order, err := h.orders.PlaceOrder(ctx, req.toDomain())
	if err != nil {
		return nil, h.statusError("PlaceOrder", err)
	}
	resp := newOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error) {
	order, err := h.orders.GetOrder(ctx, req.ID)
	if err != nil {
		return nil, h.statusError("GetOrder", err)
	}
	resp := newOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) statusError(method string, err error) error {
	_, code, message := mapError(err)
	if code == codes.Internal {
		h.logger.Error("rpc failed", zap.String("method", method), zap.Error(err))
	}
	return status.Error(code, message)
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&orderServiceDesc, srv)
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: placeOrderHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func placeOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PlaceOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + orderServiceName + "/PlaceOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).PlaceOrder(ctx, req.(*PlaceOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + orderServiceName + "/GetOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// OrderServiceClient calls the order service over a JSON-encoded gRPC
// connection.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+orderServiceName+"/PlaceOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+orderServiceName+"/GetOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
