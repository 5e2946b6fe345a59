// Package events определяет контракт ленты доменных событий и её
// транспорт поверх RabbitMQ: fanout-обменник с единственным
// общеизвестным потоком сообщений.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Exchange — имя fanout-обменника ленты событий документов.
const Exchange = "doc_events"

// Message описывает одно событие ленты. Message несёт произвольную
// JSON-сериализуемую полезную нагрузку; Room и Namespace опциональны.
type Message struct {
	Event     string          `json:"event"`
	Message   json.RawMessage `json:"message"`
	Room      string          `json:"room,omitempty"`
	Namespace string          `json:"namespace,omitempty"`
}

// Tenant возвращает арендатора-адресата события: явный Namespace либо
// ведущий сегмент комнаты до двоеточия. Пустая строка означает, что
// адресата определить нельзя и событие должно быть отброшено.
func (m Message) Tenant() string {
	if m.Namespace != "" {
		return m.Namespace
	}
	if m.Room == "" {
		return ""
	}
	tenant, _, ok := strings.Cut(m.Room, ":")
	if !ok {
		return ""
	}
	return tenant
}

// DocRoom возвращает имя комнаты конкретного документа:
// "{tenant}:doc:{doctype}/{name}".
func DocRoom(tenant, doctype, name string) string {
	return fmt.Sprintf("%s:doc:%s/%s", tenant, doctype, name)
}

// DoctypeRoom возвращает имя комнаты списочных представлений:
// "{tenant}:doctype:{doctype}".
func DoctypeRoom(tenant, doctype string) string {
	return fmt.Sprintf("%s:doctype:%s", tenant, doctype)
}

// UserRoom возвращает имя персональной комнаты пользователя:
// "{tenant}:user:{email}".
func UserRoom(tenant, email string) string {
	return fmt.Sprintf("%s:user:%s", tenant, email)
}
