package snapshot

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zombor/trip-ledger/internal/receipt"
)

// ErrNoReceipts is returned by ExportCSV for an empty list
var ErrNoReceipts = errors.New("no receipts to export")

var csvHeader = []string{
	"Date",
	"Merchant (Original)",
	"Merchant (Translated)",
	"Total Amount",
	"Currency",
	"Items (JSON)",
	"Image ID (Stored Locally)",
}

// ExportCSV writes one row per receipt
func ExportCSV(w io.Writer, receipts []receipt.Receipt) error {
	if len(receipts) == 0 {
		return ErrNoReceipts
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range receipts {
		items := r.Items
		if items == nil {
			items = []receipt.Item{}
		}
		var itemsJSON bytes.Buffer
		enc := json.NewEncoder(&itemsJSON)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(items); err != nil {
			return fmt.Errorf("encoding items of %s: %w", r.ID, err)
		}
		row := []string{
			r.Date.String(),
			r.Merchant.Original,
			r.Merchant.Translated,
			strconv.FormatFloat(r.Total, 'f', -1, 64),
			r.Currency,
			strings.TrimSuffix(itemsJSON.String(), "\n"),
			r.ID,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing receipt %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
