package handler

import (
	"context"
	"time"

	"github.com/rl1809/order-service/internal/core/domain"
)

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
}

type PlaceOrderRequest struct {
	RequestID  string             `json:"request_id,omitempty"`
	CustomerID string             `json:"customer_id"`
	Products   []OrderLineRequest `json:"products"`
}

type OrderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type GetOrderRequest struct {
	ID string `json:"id"`
}

type OrderResponse struct {
	ID        string              `json:"id"`
	Customer  CustomerResponse    `json:"customer"`
	Lines     []OrderLineResponse `json:"lines"`
	Total     string              `json:"total"`
	CreatedAt time.Time           `json:"created_at"`
}

type CustomerResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type OrderLineResponse struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
	Total     string `json:"total"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (r PlaceOrderRequest) toDomain() domain.PlaceOrderRequest {
	products := make([]domain.OrderLineRequest, 0, len(r.Products))
	for _, p := range r.Products {
		products = append(products, domain.OrderLineRequest{ProductID: p.ProductID, Quantity: p.Quantity})
	}
	return domain.PlaceOrderRequest{
		RequestID:  r.RequestID,
		CustomerID: r.CustomerID,
		Products:   products,
	}
}

func newOrderResponse(order domain.Order) OrderResponse {
	lines := make([]OrderLineResponse, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLineResponse{
			ProductID: line.ProductID,
			Price:     line.Price.StringFixed(2),
			Quantity:  line.Quantity,
			Total:     line.Total().StringFixed(2),
		})
	}
	return OrderResponse{
		ID: order.ID,
		Customer: CustomerResponse{
			ID:    order.Customer.ID,
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
		},
		Lines:     lines,
		Total:     order.Total().StringFixed(2),
		CreatedAt: order.CreatedAt,
	}
}
