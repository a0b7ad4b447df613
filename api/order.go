package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chronoswap/chronoswap/internal/types"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{
		Message: message,
	}
}

// statusForError maps the service error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, types.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNotOwner),
		errors.Is(err, types.ErrOnlyOwner):
		return http.StatusForbidden
	case errors.Is(err, types.ErrAlreadyInactive),
		errors.Is(err, types.ErrOrderInactive),
		errors.Is(err, types.ErrDuplicateOrderID):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidAmount),
		errors.Is(err, types.ErrIntervalTooShort),
		errors.Is(err, types.ErrSameAsset),
		errors.Is(err, types.ErrExecutionTimeInPast),
		errors.Is(err, types.ErrAmountOverflow),
		errors.Is(err, types.ErrInsufficientEscrow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) CreateDCAOrder(c echo.Context) error {
	var req types.DCARequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("fail to parse request"))
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := s.sdClient.Count("order.create", 1, []string{"kind:dca"}, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}

	order, err := s.orderService.ScheduleDCA(c.Request().Context(), req)
	if err != nil {
		s.logger.WithError(err).WithField("owner", req.Owner).Error("fail to schedule dca order")
		return c.JSON(statusForError(err), NewErrorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, order)
}

func (s *Server) CreateLimitOrder(c echo.Context) error {
	var req types.LimitOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("fail to parse request"))
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := s.sdClient.Count("order.create", 1, []string{"kind:limit"}, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}

	order, err := s.orderService.ScheduleLimitOrder(c.Request().Context(), req)
	if err != nil {
		s.logger.WithError(err).WithField("owner", req.Owner).Error("fail to schedule limit order")
		return c.JSON(statusForError(err), NewErrorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, order)
}

func (s *Server) CreateRecurringPayment(c echo.Context) error {
	var req types.RecurringPaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("fail to parse request"))
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := s.sdClient.Count("order.create", 1, []string{"kind:payment"}, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}

	order, err := s.orderService.ScheduleRecurringPayment(c.Request().Context(), req)
	if err != nil {
		s.logger.WithError(err).WithField("owner", req.Owner).Error("fail to schedule recurring payment")
		return c.JSON(statusForError(err), NewErrorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, order)
}

type CancelOrderRequest struct {
	Owner string `json:"owner" validate:"required"`
}

type CancelOrderResponse struct {
	OrderID string `json:"order_id"`
	Refund  uint64 `json:"refund"`
}

func (s *Server) CancelOrder(c echo.Context) error {
	orderID := c.Param("orderId")
	if orderID == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("order id is required"))
	}

	var req CancelOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("fail to parse request"))
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	refund, err := s.orderService.CancelOrder(c.Request().Context(), orderID, req.Owner)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("fail to cancel order")
		return c.JSON(statusForError(err), NewErrorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, CancelOrderResponse{
		OrderID: orderID,
		Refund:  refund,
	})
}

// ExecuteOrder arms an immediate trigger for an order whose scheduled task
// was lost. The execution itself still runs through the worker.
func (s *Server) ExecuteOrder(c echo.Context) error {
	orderID := c.Param("orderId")
	if orderID == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("order id is required"))
	}

	if err := s.orderService.ExecuteNow(c.Request().Context(), orderID); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("fail to arm immediate execution")
		return c.JSON(statusForError(err), NewErrorResponse(err.Error()))
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) GetOrder(c echo.Context) error {
	orderID := c.Param("orderId")
	if orderID == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("order id is required"))
	}

	order, err := s.orderService.GetOrder(c.Request().Context(), orderID)
	if err != nil {
		return c.JSON(statusForError(err), NewErrorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, order)
}

func (s *Server) GetUserOrders(c echo.Context) error {
	owner := c.Param("owner")
	if owner == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("owner is required"))
	}

	ids, err := s.orderService.GetUserOrders(c.Request().Context(), owner)
	if err != nil {
		s.logger.WithError(err).WithField("owner", owner).Error("fail to list user orders")
		return c.JSON(statusForError(err), NewErrorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, ids)
}

type PauseRequest struct {
	Caller string `json:"caller" validate:"required"`
	Paused *bool  `json:"paused" validate:"required"`
}

func (s *Server) SetPauseAll(c echo.Context) error {
	var req PauseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("fail to parse request"))
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := s.orderService.SetPauseAll(c.Request().Context(), req.Caller, *req.Paused); err != nil {
		s.logger.WithError(err).WithField("caller", req.Caller).Error("fail to set pause flag")
		return c.JSON(statusForError(err), NewErrorResponse(err.Error()))
	}
	return c.NoContent(http.StatusOK)
}

type WindDownRequest struct {
	Caller string `json:"caller" validate:"required"`
}

func (s *Server) EmergencyWindDown(c echo.Context) error {
	var req WindDownRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("fail to parse request"))
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := s.sdClient.Count("order.winddown", 1, nil, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}

	report, err := s.orderService.EmergencyWindDown(c.Request().Context(), req.Caller)
	if err != nil {
		s.logger.WithError(err).WithField("caller", req.Caller).Error("fail to wind down")
		return c.JSON(statusForError(err), NewErrorResponse(err.Error()))
	}
	return c.JSON(http.StatusOK, report)
}
