// Package occupancy выводит занятость столов из живого набора заказов.
// Занятость нигде не хранится: это чистое соединение двух внешних
// коллекций, пересчитываемое при каждом обращении.
package occupancy

import "github.com/mmeshcher/restopos-system/internal/model"

// Resolve возвращает признак занятости для каждого стола: стол занят,
// если на него ссылается хотя бы один заказ в неконечном состоянии.
func Resolve(tables []model.DiningTable, liveOrders []model.Order) map[string]bool {
	busy := make(map[string]struct{}, len(liveOrders))
	for _, o := range liveOrders {
		if o.TableNo == "" || o.Status.Terminal() {
			continue
		}
		busy[o.TableNo] = struct{}{}
	}

	out := make(map[string]bool, len(tables))
	for _, t := range tables {
		_, booked := busy[t.Name]
		out[t.Name] = booked
	}
	return out
}
