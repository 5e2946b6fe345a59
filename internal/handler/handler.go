// Package handler содержит HTTP-обработчики API оркестратора заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/restopos-system/internal/identity"
	"github.com/mmeshcher/restopos-system/internal/lifecycle"
	"github.com/mmeshcher/restopos-system/internal/middleware"
	"github.com/mmeshcher/restopos-system/internal/model"
	"github.com/mmeshcher/restopos-system/internal/repository"
	"github.com/mmeshcher/restopos-system/internal/service"
	"github.com/mmeshcher/restopos-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*model.Order, error)
	RequestTransition(ctx context.Context, orderName, action string, p *identity.Principal) (*model.Order, error)
	ApplyDiscount(ctx context.Context, orderName string, discountType model.DiscountType, value float64, couponCode string, p *identity.Principal) (*model.Order, error)
	VerifyCoupon(ctx context.Context, code string) (*model.Coupon, error)
	TableOccupancy(ctx context.Context) ([]service.TableStatus, error)
	ListLiveOrders(ctx context.Context) ([]model.Order, error)
}

// Handler реализует HTTP-обработчики API оркестратора заказов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type apiResponse struct {
	Status         string   `json:"status"`
	Message        string   `json:"message,omitempty"`
	Name           string   `json:"name,omitempty"`
	OrderStatus    string   `json:"order_status,omitempty"`
	DiscountType   string   `json:"discount_type,omitempty"`
	DiscountAmount *float64 `json:"discount_amount,omitempty"`
	Amount         *float64 `json:"amount,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError

	var code int
	switch {
	case errors.As(err, &ve):
		code = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrUnauthorizedRole):
		code = http.StatusForbidden
	case errors.Is(err, lifecycle.ErrInvalidAction),
		errors.Is(err, lifecycle.ErrTerminalState),
		errors.Is(err, repository.ErrOrderLocked):
		code = http.StatusConflict
	case errors.Is(err, repository.ErrOrderNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCoupon):
		code = http.StatusUnprocessableEntity
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, apiResponse{
			Status:  "error",
			Message: http.StatusText(http.StatusInternalServerError),
		})
		return
	}

	writeJSON(w, code, apiResponse{Status: "error", Message: err.Error()})
}

type lineItemRequest struct {
	ItemCode      string  `json:"item_code"`
	Qty           int64   `json:"qty"`
	Rate          float64 `json:"rate"`
	Complimentary bool    `json:"complimentary"`
	Takeaway      bool    `json:"takeaway"`
}

type checkoutRequest struct {
	Channel    string            `json:"channel"`
	TableNo    string            `json:"table"`
	Customer   string            `json:"customer"`
	CreditSale bool              `json:"credit_sale"`
	Remarks    string            `json:"remarks"`
	Items      []lineItemRequest `json:"items"`
}

// Checkout оформляет новый заказ.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Message: "malformed request body"})
		return
	}

	in := service.CreateOrderInput{
		Channel:    model.Channel(req.Channel),
		TableNo:    req.TableNo,
		Customer:   req.Customer,
		CreditSale: req.CreditSale,
		Remarks:    req.Remarks,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.LineItemInput{
			ItemCode:      it.ItemCode,
			Qty:           it.Qty,
			Rate:          it.Rate,
			Complimentary: it.Complimentary,
			Takeaway:      it.Takeaway,
		})
	}

	order, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, apiResponse{
		Status:      "success",
		Name:        order.Name,
		OrderStatus: string(order.Status),
	})
}

type transitionRequest struct {
	Action string `json:"action"`
}

// Transition применяет действие жизненного цикла к заказу.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	name := orderNameParam(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Message: "invalid order name"})
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Message: "action is required"})
		return
	}

	order, err := h.service.RequestTransition(r.Context(), name, req.Action, p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status:      "success",
		Name:        order.Name,
		OrderStatus: string(order.Status),
	})
}

type discountRequest struct {
	DiscountType string  `json:"discount_type"`
	Value        float64 `json:"value"`
	CouponCode   string  `json:"coupon_code"`
}

// Discount применяет скидку к заказу.
func (h *Handler) Discount(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	name := orderNameParam(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Message: "invalid order name"})
		return
	}

	var req discountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Message: "malformed request body"})
		return
	}

	order, err := h.service.ApplyDiscount(r.Context(), name,
		model.DiscountType(req.DiscountType), req.Value, req.CouponCode, p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	amount := float64(order.DiscountCents) / 100
	writeJSON(w, http.StatusOK, apiResponse{
		Status:         "success",
		Name:           order.Name,
		DiscountAmount: &amount,
	})
}

type verifyCouponRequest struct {
	Code string `json:"code"`
}

// VerifyCoupon проверяет купон. Неудачная проверка — не ошибка
// запроса: клиент получает status "failure" с пояснением.
func (h *Handler) VerifyCoupon(w http.ResponseWriter, r *http.Request) {
	var req verifyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validation.IsValidCouponCode(req.Code) {
		writeJSON(w, http.StatusOK, apiResponse{Status: "failure", Message: "invalid coupon code"})
		return
	}

	c, err := h.service.VerifyCoupon(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCoupon) {
			writeJSON(w, http.StatusOK, apiResponse{Status: "failure", Message: err.Error()})
			return
		}
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status:       "success",
		DiscountType: string(c.Type),
		Amount:       &c.Value,
	})
}

type tableResponse struct {
	Name     string `json:"name"`
	Floor    string `json:"floor"`
	Seats    int    `json:"seats"`
	Shape    string `json:"shape,omitempty"`
	IsBooked bool   `json:"is_booked"`
}

// Tables возвращает столы зала с выведенной занятостью.
func (h *Handler) Tables(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.service.TableOccupancy(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]tableResponse, 0, len(statuses))
	for _, ts := range statuses {
		resp = append(resp, tableResponse{
			Name:     ts.Table.Name,
			Floor:    ts.Table.Floor,
			Seats:    ts.Table.Seats,
			Shape:    ts.Table.Shape,
			IsBooked: ts.Booked,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type orderItemResponse struct {
	ItemCode      string  `json:"item_code"`
	Qty           int64   `json:"qty"`
	Rate          float64 `json:"rate"`
	Complimentary bool    `json:"complimentary,omitempty"`
	Takeaway      bool    `json:"takeaway,omitempty"`
}

type orderResponse struct {
	Name     string              `json:"name"`
	Channel  string              `json:"channel"`
	Status   string              `json:"status"`
	TableNo  string              `json:"table,omitempty"`
	Customer string              `json:"customer,omitempty"`
	IsPaid   bool                `json:"is_paid"`
	Discount float64             `json:"discount_amount"`
	Tax      float64             `json:"tax_amount"`
	Total    float64             `json:"total_amount"`
	Items    []orderItemResponse `json:"items"`
}

// LiveOrders возвращает заказы в неконечных состояниях для панелей
// кухни и кассы.
func (h *Handler) LiveOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListLiveOrders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		or := orderResponse{
			Name:     o.Name,
			Channel:  string(o.Channel),
			Status:   string(o.Status),
			TableNo:  o.TableNo,
			Customer: o.Customer,
			IsPaid:   o.IsPaid,
			Discount: float64(o.DiscountCents) / 100,
			Tax:      float64(o.TaxCents) / 100,
			Total:    float64(o.TotalCents) / 100,
		}
		for _, it := range o.Items {
			or.Items = append(or.Items, orderItemResponse{
				ItemCode:      it.ItemCode,
				Qty:           it.Qty,
				Rate:          float64(it.RateCents) / 100,
				Complimentary: it.Complimentary,
				Takeaway:      it.Takeaway,
			})
		}
		resp = append(resp, or)
	}

	writeJSON(w, http.StatusOK, resp)
}
