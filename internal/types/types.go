package types

type Side string

type PositionStatus string

type OrderType string

type OrderStatus string

type NotificationType string

type AlertCondition string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the side of the trade that offsets s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Direction is +1 for buy and -1 for sell.
func (s Side) Direction() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

const (
	OrderTypeMarket OrderType = "market"
)

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusExecuted OrderStatus = "executed"
	OrderStatusRejected OrderStatus = "rejected"
)

const (
	NotificationTrade       NotificationType = "trade"
	NotificationMarginCall  NotificationType = "margin_call"
	NotificationLiquidation NotificationType = "liquidation"
	NotificationSystem      NotificationType = "system"
	NotificationPriceAlert  NotificationType = "price_alert"
)

const (
	AlertAbove AlertCondition = "above"
	AlertBelow AlertCondition = "below"
)

func (c AlertCondition) Valid() bool {
	return c == AlertAbove || c == AlertBelow
}
