package domain

import "context"

// Notifier tells a client their appointment moved. Delivery is best effort.
type Notifier interface {
	NotifyRescheduled(ctx context.Context, event AppointmentRescheduled) error
}
