// Package model содержит доменные сущности ресторанного POS.
package model

import "time"

// OrderStatus описывает состояние жизненного цикла заказа.
type OrderStatus string

const (
	StatusOrderPlaced    OrderStatus = "Order Placed"
	StatusWorkInProgress OrderStatus = "Work in progress"
	StatusPreparing      OrderStatus = "Preparing"
	StatusReadyToServe   OrderStatus = "Ready to Serve"
	StatusServed         OrderStatus = "Served"
	StatusCompleted      OrderStatus = "Completed"
	StatusCanceled       OrderStatus = "Canceled"
)

// Terminal сообщает, является ли состояние конечным: из него нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Statuses перечисляет все известные состояния заказа.
func Statuses() []OrderStatus {
	return []OrderStatus{
		StatusOrderPlaced,
		StatusWorkInProgress,
		StatusPreparing,
		StatusReadyToServe,
		StatusServed,
		StatusCompleted,
		StatusCanceled,
	}
}

// Role описывает роль сотрудника ресторана. Набор ролей закрытый:
// неизвестные строки из внешней системы идентификации отбрасываются.
type Role string

const (
	RoleWaiter  Role = "Restaurant Waiter"
	RoleChef    Role = "Restaurant Chef"
	RoleCashier Role = "Restaurant Cashier"
	RoleManager Role = "Restaurant Manager"
)

// ParseRole сопоставляет строку с известной ролью.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleWaiter, RoleChef, RoleCashier, RoleManager:
		return Role(s), true
	}
	return "", false
}

// ParseRoles преобразует список строк в список известных ролей,
// отбрасывая неизвестные.
func ParseRoles(ss []string) []Role {
	roles := make([]Role, 0, len(ss))
	for _, s := range ss {
		if r, ok := ParseRole(s); ok {
			roles = append(roles, r)
		}
	}
	return roles
}

// Channel описывает канал продажи заказа.
type Channel string

const (
	ChannelDineIn   Channel = "dine-in"
	ChannelTakeaway Channel = "takeaway"
)

// DiscountType описывает вид скидки на заказ.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFlat       DiscountType = "flat"
	DiscountCoupon     DiscountType = "coupon"
)

// LineItem описывает позицию заказа. Денежные суммы хранятся
// в минорных единицах валюты.
type LineItem struct {
	ItemCode      string
	Qty           int64
	RateCents     int64
	Complimentary bool
	Takeaway      bool
}

// Order описывает заказ (в зале или навынос) с позициями и итогами.
type Order struct {
	Name          string
	Channel       Channel
	Status        OrderStatus
	Items         []LineItem
	DiscountType  DiscountType
	DiscountCents int64
	TaxCents      int64
	TotalCents    int64
	TableNo       string
	Customer      string
	IsPaid        bool
	// Docstatus повторяет семантику документного хранилища:
	// 0 — черновик, 1 — проведён (заблокирован), 2 — отменён.
	Docstatus int16
	Remarks   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DiningTable описывает стол зала. Геометрия принадлежит редактору
// планировки и ядром не интерпретируется.
type DiningTable struct {
	Name  string
	Floor string
	Seats int
	Shape string
}

// Coupon описывает купон на скидку. Для процентного купона Value —
// процент, для фиксированного — сумма в единицах валюты.
type Coupon struct {
	Code  string
	Type  DiscountType
	Value float64
}
