package gsc

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ExportCSV renders rows as CSV with one column per dimension followed by
// the four metrics. Quoting follows RFC 4180 via encoding/csv.
func ExportCSV(rows []Row, dimensions []string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append(append([]string{}, dimensions...), "clicks", "impressions", "ctr", "position")
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range rows {
		record := make([]string, 0, len(header))
		for i := range dimensions {
			record = append(record, key(row, i))
		}
		record = append(record,
			strconv.FormatInt(int64(row.Clicks), 10),
			strconv.FormatInt(int64(row.Impressions), 10),
			fmt.Sprintf("%.2f", row.CTR*100),
			fmt.Sprintf("%.1f", row.Position),
		)
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}

// ExportJSON renders rows as an indented JSON array with one object per row.
// CTR is exported as a percentage, position rounded to one decimal.
func ExportJSON(rows []Row, dimensions []string) (string, error) {
	items := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		item := make(map[string]interface{}, len(dimensions)+4)
		for i, dim := range dimensions {
			item[dim] = key(row, i)
		}
		item["clicks"] = int64(row.Clicks)
		item["impressions"] = int64(row.Impressions)
		item["ctr"] = math.Round(row.CTR*10000) / 100
		item["position"] = math.Round(row.Position*10) / 10
		items = append(items, item)
	}

	out, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	return string(out), nil
}

func key(row Row, i int) string {
	if i < len(row.Keys) {
		return row.Keys[i]
	}
	return ""
}
