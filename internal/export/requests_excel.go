package export

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/jmorallos/registrar-portal/internal/model"
)

const requestsSheet = "Requests"

var requestsHeader = []string{"ID", "Student", "Document", "Quantity", "Price/Copy", "Total", "Status", "Created", "Updated"}

// RequestsWorkbook builds the staff-facing export of every document request.
func RequestsWorkbook(requests []model.DocumentRequest) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", requestsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	for col, h := range requestsHeader {
		cell := fmt.Sprintf("%s1", colName(col+1))
		if err := f.SetCellStr(requestsSheet, cell, h); err != nil {
			return nil, fmt.Errorf("set cell %s: %w", cell, err)
		}
	}
	end := colName(len(requestsHeader)) + "1"
	_ = f.SetCellStyle(requestsSheet, "A1", end, bold)
	_ = f.AutoFilter(requestsSheet, "A1:"+end, nil)

	for i, request := range requests {
		row := []string{
			request.ID,
			request.StudentName,
			request.DocumentType,
			strconv.Itoa(request.Quantity),
			strconv.Itoa(request.PricePerCopy),
			strconv.Itoa(request.Total),
			request.Status,
			request.CreatedAt.Format("2006-01-02 15:04"),
			request.UpdatedAt.Format("2006-01-02 15:04"),
		}
		for col, val := range row {
			cell := fmt.Sprintf("%s%d", colName(col+1), i+2)
			if err := f.SetCellStr(requestsSheet, cell, val); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	for col := 1; col <= len(requestsHeader); col++ {
		width := float64(len(requestsHeader[col-1])) * 1.2
		if col == 1 || col == 2 {
			width = 36
		}
		if width < 12 {
			width = 12
		}
		_ = f.SetColWidth(requestsSheet, colName(col), colName(col), width)
	}
	return f, nil
}

func colName(n int) string {
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+(n%26))) + s
		n /= 26
	}
	return s
}
