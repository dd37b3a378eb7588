package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/order-service/internal/core/domain"
)

type errorMapping struct {
	kind   error
	status int
	code   codes.Code
}

// Order matters: the first matching kind wins.
var errorMappings = []errorMapping{
	{domain.ErrCustomerNotFound, http.StatusNotFound, codes.NotFound},
	{domain.ErrOrderNotFound, http.StatusNotFound, codes.NotFound},
	{domain.ErrInvalidProducts, http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrNoProducts, http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrInsufficientQuantity, http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrDuplicateRequest, http.StatusConflict, codes.AlreadyExists},
}

// mapError returns the transport status for err and a message safe to show
// callers. Kinds missing from errorMappings, such as ErrPersistence and
// ErrProductNotFound (a store returned a product nobody asked for), are
// internal errors and never leak their cause.
func mapError(err error) (int, codes.Code, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			return m.status, m.code, err.Error()
		}
	}
	return http.StatusInternalServerError, codes.Internal, "internal error"
}
