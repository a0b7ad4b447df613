package common

import "fmt"

// Cache key shapes shared between the API server and the worker.
const (
	orderKeyPrefix      = "order_"
	userOrdersKeyPrefix = "user_orders_"

	PauseAllKey = "orders_paused"
)

func OrderKey(orderID string) string {
	return orderKeyPrefix + orderID
}

func UserOrdersKey(owner string) string {
	return fmt.Sprintf("%s%s", userOrdersKeyPrefix, owner)
}
