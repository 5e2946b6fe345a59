// Package lifecycle содержит конечный автомат жизненного цикла заказа:
// фиксированную таблицу переходов и проверку ролей. Автомат чистый,
// не хранит состояния и не запускает таймеров: застрявший заказ
// разрешается привилегированным ручным переходом менеджера.
package lifecycle

import (
	"errors"

	"github.com/mmeshcher/restopos-system/internal/model"
)

// Action описывает запрошенное над заказом действие.
type Action string

const (
	ActionSendToKitchen  Action = "Send to Kitchen"
	ActionStartPreparing Action = "Start Preparing"
	ActionMarkReady      Action = "Mark Ready"
	ActionServe          Action = "Serve"
	ActionPayNow         Action = "Pay Now"
	ActionCancel         Action = "Cancel"
)

// Actions перечисляет все известные действия.
func Actions() []Action {
	return []Action{
		ActionSendToKitchen,
		ActionStartPreparing,
		ActionMarkReady,
		ActionServe,
		ActionPayNow,
		ActionCancel,
	}
}

// ErrTerminalState возвращается при попытке перехода из конечного состояния.
var (
	ErrTerminalState = errors.New("order is in a terminal state")
	// ErrInvalidAction возвращается, если для пары (состояние, действие)
	// нет строки в таблице переходов.
	ErrInvalidAction = errors.New("action is not valid for the current state")
	// ErrUnauthorizedRole возвращается, если ни одна из ролей вызывающего
	// не допущена к действию в текущем состоянии.
	ErrUnauthorizedRole = errors.New("role is not authorized for the action")
)

type transitionKey struct {
	from   model.OrderStatus
	action Action
}

type transitionRule struct {
	next  model.OrderStatus
	roles []model.Role
}

// Таблица переходов. Отмена из "Order Placed" доступна официанту,
// из остальных неконечных состояний — только менеджеру.
var transitions = map[transitionKey]transitionRule{
	{model.StatusOrderPlaced, ActionSendToKitchen}: {
		next:  model.StatusWorkInProgress,
		roles: []model.Role{model.RoleWaiter, model.RoleManager},
	},
	{model.StatusWorkInProgress, ActionStartPreparing}: {
		next:  model.StatusPreparing,
		roles: []model.Role{model.RoleChef, model.RoleManager},
	},
	{model.StatusPreparing, ActionMarkReady}: {
		next:  model.StatusReadyToServe,
		roles: []model.Role{model.RoleChef, model.RoleManager},
	},
	{model.StatusReadyToServe, ActionServe}: {
		next:  model.StatusServed,
		roles: []model.Role{model.RoleWaiter, model.RoleManager},
	},
	{model.StatusReadyToServe, ActionPayNow}: {
		next:  model.StatusCompleted,
		roles: []model.Role{model.RoleCashier, model.RoleManager},
	},
	{model.StatusServed, ActionPayNow}: {
		next:  model.StatusCompleted,
		roles: []model.Role{model.RoleCashier, model.RoleManager},
	},
	{model.StatusOrderPlaced, ActionCancel}: {
		next:  model.StatusCanceled,
		roles: []model.Role{model.RoleWaiter, model.RoleManager},
	},
	{model.StatusWorkInProgress, ActionCancel}: {
		next:  model.StatusCanceled,
		roles: []model.Role{model.RoleManager},
	},
	{model.StatusPreparing, ActionCancel}: {
		next:  model.StatusCanceled,
		roles: []model.Role{model.RoleManager},
	},
	{model.StatusReadyToServe, ActionCancel}: {
		next:  model.StatusCanceled,
		roles: []model.Role{model.RoleManager},
	},
	{model.StatusServed, ActionCancel}: {
		next:  model.StatusCanceled,
		roles: []model.Role{model.RoleManager},
	},
}

// Next возвращает следующее состояние заказа для запрошенного действия
// либо одну из ошибок ErrTerminalState, ErrInvalidAction,
// ErrUnauthorizedRole. Результат детерминирован.
func Next(status model.OrderStatus, action Action, roles []model.Role) (model.OrderStatus, error) {
	if status.Terminal() {
		return "", ErrTerminalState
	}

	rule, ok := transitions[transitionKey{from: status, action: action}]
	if !ok {
		return "", ErrInvalidAction
	}

	if !anyRoleAllowed(roles, rule.roles) {
		return "", ErrUnauthorizedRole
	}

	return rule.next, nil
}

// AllowedActions возвращает действия, доступные из данного состояния
// для хотя бы одной из ролей вызывающего. Используется панелями
// кухни и кассы для отрисовки кнопок.
func AllowedActions(status model.OrderStatus, roles []model.Role) []Action {
	var out []Action
	for _, a := range Actions() {
		if _, err := Next(status, a, roles); err == nil {
			out = append(out, a)
		}
	}
	return out
}

func anyRoleAllowed(have, allowed []model.Role) bool {
	for _, h := range have {
		for _, a := range allowed {
			if h == a {
				return true
			}
		}
	}
	return false
}
