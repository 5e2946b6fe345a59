// Package service реализует оркестрацию жизненного цикла заказа:
// проверку запроса, расчёт стоимости, переход состояния, запись в
// хранилище и публикацию события об изменении.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/restopos-system/internal/events"
	"github.com/mmeshcher/restopos-system/internal/identity"
	"github.com/mmeshcher/restopos-system/internal/lifecycle"
	"github.com/mmeshcher/restopos-system/internal/model"
	"github.com/mmeshcher/restopos-system/internal/occupancy"
	"github.com/mmeshcher/restopos-system/internal/pricing"
	"github.com/mmeshcher/restopos-system/internal/repository"
)

// ErrInvalidCoupon возвращается, если купон не найден или не может
// быть применён; скидка заказа при этом остаётся без изменений.
var ErrInvalidCoupon = errors.New("invalid coupon")

// ValidationError описывает отклонённый запрос; повторять его
// без исправления бессмысленно.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, o *model.Order) (string, error)
	GetOrder(ctx context.Context, name string) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	ListLiveOrders(ctx context.Context) ([]model.Order, error)
	ListTables(ctx context.Context) ([]model.DiningTable, error)
	GetCoupon(ctx context.Context, code string) (*model.Coupon, error)
	DiscountCeiling(ctx context.Context, roles []model.Role) (int64, error)
}

// Publisher описывает публикацию событий об изменении документов.
type Publisher interface {
	Publish(ctx context.Context, msg events.Message) error
}

// Service содержит бизнес-логику оркестратора заказов.
type Service struct {
	repo       Repository
	pub        Publisher
	site       string
	taxRatePct float64
	logger     *zap.Logger
}

// NewService создаёт сервис для указанного сайта (арендатора) с заданной
// налоговой ставкой в процентах.
func NewService(repo Repository, pub Publisher, site string, taxRatePct float64, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		pub:        pub,
		site:       site,
		taxRatePct: taxRatePct,
		logger:     logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// LineItemInput описывает позицию заказа в запросе оформления.
// Rate задаётся в единицах валюты.
type LineItemInput struct {
	ItemCode      string
	Qty           int64
	Rate          float64
	Complimentary bool
	Takeaway      bool
}

// CreateOrderInput описывает запрос оформления заказа.
type CreateOrderInput struct {
	Channel    model.Channel
	TableNo    string
	Customer   string
	CreditSale bool
	Remarks    string
	Items      []LineItemInput
}

// CreateOrder проверяет запрос, рассчитывает итоги без скидки,
// сохраняет заказ и публикует событие об изменении. Начальное состояние
// зависит от канала: в зале — "Order Placed", навынос — "Work in progress".
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if err := validateCreateOrder(in); err != nil {
		return nil, err
	}

	items := make([]model.LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, model.LineItem{
			ItemCode:      it.ItemCode,
			Qty:           it.Qty,
			RateCents:     toCents(it.Rate),
			Complimentary: it.Complimentary,
			Takeaway:      it.Takeaway,
		})
	}

	quote, err := pricing.Price(items, pricing.Discount{}, 0, s.taxRatePct)
	if err != nil {
		return nil, err
	}

	status := model.StatusOrderPlaced
	if in.Channel == model.ChannelTakeaway {
		status = model.StatusWorkInProgress
	}

	order := &model.Order{
		Channel:    in.Channel,
		Status:     status,
		Items:      items,
		TaxCents:   quote.TaxCents,
		TotalCents: quote.TotalCents,
		TableNo:    in.TableNo,
		Customer:   in.Customer,
		Remarks:    in.Remarks,
	}

	if _, err := s.repo.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, repository.ErrTableOccupied) {
			return nil, validationErrorf("table %s already has an active order", in.TableNo)
		}
		return nil, err
	}

	s.notify(ctx, order)
	return order, nil
}

func validateCreateOrder(in CreateOrderInput) error {
	if in.Channel != model.ChannelDineIn && in.Channel != model.ChannelTakeaway {
		return validationErrorf("unknown channel %q", in.Channel)
	}
	if len(in.Items) == 0 {
		return validationErrorf("order must contain at least one item")
	}
	for _, it := range in.Items {
		if it.ItemCode == "" {
			return validationErrorf("item code is required")
		}
		if it.Qty <= 0 {
			return validationErrorf("item %s: quantity must be positive", it.ItemCode)
		}
		if it.Rate < 0 {
			return validationErrorf("item %s: rate must not be negative", it.ItemCode)
		}
	}
	if in.Channel == model.ChannelDineIn && in.TableNo == "" {
		return validationErrorf("table is required for dine-in orders")
	}
	if in.CreditSale && in.Customer == "" {
		return validationErrorf("customer is required for credit sale")
	}
	return nil
}

// RequestTransition применяет действие к заказу от имени принципала.
// Решение о допустимости принимает конечный автомат; оркестратор
// отвечает за фиксацию результата: действие "Pay Now" записывает оплату,
// завершение блокирует документ, отмена помечает его отменённым.
func (s *Service) RequestTransition(ctx context.Context, orderName, action string, p *identity.Principal) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderName)
	if err != nil {
		return nil, err
	}

	next, err := lifecycle.Next(order.Status, lifecycle.Action(action), p.Roles)
	if err != nil {
		return nil, err
	}

	if next == model.StatusCompleted {
		if lifecycle.Action(action) == lifecycle.ActionPayNow {
			order.IsPaid = true
		}
		if !order.IsPaid {
			return nil, validationErrorf("order must be paid before completion")
		}
	}

	order.Status = next
	switch next {
	case model.StatusCompleted:
		order.Docstatus = 1
	case model.StatusCanceled:
		order.Docstatus = 2
	}

	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	s.notify(ctx, order)
	return order, nil
}

// ApplyDiscount применяет скидку к заказу с учётом потолка ролей
// принципала. Разрешение купона выполняется здесь, во внешнем
// справочнике; сам расчёт остаётся чистым. Неудачный поиск купона
// оставляет скидку заказа без изменений.
func (s *Service) ApplyDiscount(ctx context.Context, orderName string, discountType model.DiscountType, value float64, couponCode string, p *identity.Principal) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderName)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, lifecycle.ErrTerminalState
	}

	ceiling, err := s.repo.DiscountCeiling(ctx, p.Roles)
	if err != nil {
		return nil, err
	}

	discount, err := s.resolveDiscount(ctx, discountType, value, couponCode)
	if err != nil {
		return nil, err
	}

	quote, err := pricing.Price(order.Items, discount, ceiling, s.taxRatePct)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidDiscount) {
			return nil, validationErrorf("discount value is out of range for this order")
		}
		return nil, err
	}

	order.DiscountType = discountType
	order.DiscountCents = quote.DiscountCents
	order.TaxCents = quote.TaxCents
	order.TotalCents = quote.TotalCents

	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	s.notify(ctx, order)
	return order, nil
}

func (s *Service) resolveDiscount(ctx context.Context, discountType model.DiscountType, value float64, couponCode string) (pricing.Discount, error) {
	switch discountType {
	case model.DiscountPercentage:
		return pricing.Discount{Type: model.DiscountPercentage, Percent: value}, nil
	case model.DiscountFlat:
		return pricing.Discount{Type: model.DiscountFlat, AmountCents: toCents(value)}, nil
	case model.DiscountCoupon:
		c, err := s.repo.GetCoupon(ctx, couponCode)
		if err != nil {
			if errors.Is(err, repository.ErrCouponNotFound) {
				return pricing.Discount{}, fmt.Errorf("%w: %s", ErrInvalidCoupon, couponCode)
			}
			return pricing.Discount{}, err
		}
		switch c.Type {
		case model.DiscountPercentage:
			return pricing.Discount{Type: model.DiscountPercentage, Percent: c.Value}, nil
		case model.DiscountFlat:
			return pricing.Discount{Type: model.DiscountFlat, AmountCents: toCents(c.Value)}, nil
		default:
			return pricing.Discount{}, fmt.Errorf("%w: unsupported coupon type %q", ErrInvalidCoupon, c.Type)
		}
	default:
		return pricing.Discount{}, validationErrorf("unknown discount type %q", discountType)
	}
}

// VerifyCoupon проверяет существование купона и возвращает его параметры.
func (s *Service) VerifyCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	c, err := s.repo.GetCoupon(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCouponNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCoupon, code)
		}
		return nil, err
	}
	return c, nil
}

// TableStatus описывает стол вместе с выведенной занятостью.
type TableStatus struct {
	Table  model.DiningTable
	Booked bool
}

// TableOccupancy возвращает столы с признаком занятости, выведенным
// из живого набора заказов.
func (s *Service) TableOccupancy(ctx context.Context) ([]TableStatus, error) {
	tables, err := s.repo.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := s.repo.ListLiveOrders(ctx)
	if err != nil {
		return nil, err
	}

	booked := occupancy.Resolve(tables, orders)

	out := make([]TableStatus, 0, len(tables))
	for _, t := range tables {
		out = append(out, TableStatus{Table: t, Booked: booked[t.Name]})
	}
	return out, nil
}

// ListLiveOrders возвращает заказы в неконечных состояниях для панелей
// кухни и кассы.
func (s *Service) ListLiveOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.ListLiveOrders(ctx)
}

// notify публикует событие об изменении заказа в комнату документа и
// в комнату списочных представлений. Ошибка публикации не отменяет
// уже зафиксированную запись и только логируется.
func (s *Service) notify(ctx context.Context, o *model.Order) {
	payload, err := json.Marshal(map[string]any{
		"doctype":  "Order",
		"name":     o.Name,
		"status":   string(o.Status),
		"table_no": o.TableNo,
		"is_paid":  o.IsPaid,
		"total":    float64(o.TotalCents) / 100,
	})
	if err != nil {
		s.logger.Error("marshal order event", zap.Error(err), zap.String("order", o.Name))
		return
	}

	rooms := []string{
		events.DocRoom(s.site, "Order", o.Name),
		events.DoctypeRoom(s.site, "Order"),
	}
	for _, room := range rooms {
		msg := events.Message{
			Event:   "doc_update",
			Message: payload,
			Room:    room,
		}
		if err := s.pub.Publish(ctx, msg); err != nil {
			s.logger.Error("publish order event", zap.Error(err),
				zap.String("order", o.Name), zap.String("room", room))
		}
	}
}

func toCents(v float64) int64 {
	return int64(v*100 + 0.5)
}
