// Package validation содержит дешёвые синтаксические проверки
// идентификаторов, выполняемые до обращения к хранилищу.
package validation

import "regexp"

var (
	// Имена дополняются нулями до шести цифр, но после миллионного
	// документа счётчик продолжает расти.
	orderNameRe  = regexp.MustCompile(`^ORD-\d{6,}$`)
	couponCodeRe = regexp.MustCompile(`^[A-Z0-9_-]{1,32}$`)
)

// IsValidOrderName сообщает, похожа ли строка на имя документа заказа.
func IsValidOrderName(name string) bool {
	return orderNameRe.MatchString(name)
}

// IsValidCouponCode сообщает, похожа ли строка на код купона.
func IsValidCouponCode(code string) bool {
	return couponCodeRe.MatchString(code)
}
