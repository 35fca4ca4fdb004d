// Package qos holds the quality-of-service knobs for projection
// subscriptions: event ordering and delivery guarantees.
package qos

type Ordering uint

const (
	Ordered Ordering = iota
	Unordered
)

type Delivery uint

const (
	AtLeastOnce Delivery = iota
	AtMostOnce
)

type QoS struct {
	Ordering Ordering
	Delivery Delivery
}
