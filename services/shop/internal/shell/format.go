package shell

import (
	"fmt"
	"time"

	"storefront/pkg/domain"
)

var statusLabels = map[domain.OrderStatus]string{
	domain.OrderPending:    "Menunggu",
	domain.OrderProcessing: "Diproses",
	domain.OrderCompleted:  "Selesai",
	domain.OrderCancelled:  "Dibatalkan",
}

// statusLabel returns the display label, or the raw status when unknown.
func statusLabel(status domain.OrderStatus) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return string(status)
}

var months = [...]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

// formatDate renders an RFC 3339 timestamp as "16 Oktober 2026 pukul 14.05"
// in loc. Unparseable input is returned unchanged.
func formatDate(value string, loc *time.Location) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	if loc != nil {
		t = t.In(loc)
	}
	return fmt.Sprintf("%d %s %d pukul %02d.%02d", t.Day(), months[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}
