package export

import (
	"testing"
	"time"

	"github.com/jmorallos/registrar-portal/internal/model"
)

func TestRequestsWorkbook(t *testing.T) {
	created := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	requests := []model.DocumentRequest{
		{
			ID:           "req-1",
			StudentName:  "Juan Dela Cruz",
			DocumentType: "tor",
			Quantity:     2,
			PricePerCopy: 150,
			Total:        300,
			Status:       "pending",
			CreatedAt:    created,
			UpdatedAt:    created,
		},
	}

	f, err := RequestsWorkbook(requests)
	if err != nil {
		t.Fatalf("workbook error: %v", err)
	}

	header, err := f.GetCellValue(requestsSheet, "A1")
	if err != nil || header != "ID" {
		t.Fatalf("expected ID header, got %q err=%v", header, err)
	}
	student, err := f.GetCellValue(requestsSheet, "B2")
	if err != nil || student != "Juan Dela Cruz" {
		t.Fatalf("expected student name, got %q err=%v", student, err)
	}
	total, err := f.GetCellValue(requestsSheet, "F2")
	if err != nil || total != "300" {
		t.Fatalf("expected total 300, got %q err=%v", total, err)
	}
}

func TestColName(t *testing.T) {
	cases := map[int]string{1: "A", 2: "B", 26: "Z", 27: "AA", 28: "AB"}
	for n, expect := range cases {
		if got := colName(n); got != expect {
			t.Fatalf("colName(%d): expected %s, got %s", n, expect, got)
		}
	}
}
