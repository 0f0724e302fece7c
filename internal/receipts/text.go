package receipts

import (
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/tiptap/internal/tip"
)

// Text renders a plain-text receipt suitable for sharing by message or email.
func Text(r *Receipt) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%-13s%s\n", label+":", value)
		}
	}

	b.WriteString("TipTap Receipt\n")
	b.WriteString(strings.Repeat("=", 36) + "\n")
	line("Receipt #", r.Number)
	line("Date", r.SettledAt.UTC().Format(time.RFC1123))
	line("Merchant", r.MerchantID)
	line("Method", string(r.Method))
	b.WriteString(strings.Repeat("-", 36) + "\n")
	line("Subtotal", tip.Format(r.Subtotal, r.Currency))
	if !r.Tip.IsZero() {
		line("Tip", tip.Format(r.Tip, r.Currency))
	}
	line("Total", tip.Format(r.Total, r.Currency))
	b.WriteString(strings.Repeat("-", 36) + "\n")
	line("Status", string(r.Status))
	line("Transaction", r.TransactionID)
	if r.Signature != "" {
		line("Signature", r.Signature[:16]+"...")
	}
	return b.String()
}
