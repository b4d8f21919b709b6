package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"printflow/internal/domain"
)

const (
	summarySheet = "Summary"
	ordersSheet  = "Orders"
)

var orderColumns = []string{"Order", "Customer", "Zone", "Status", "Designer", "Printer", "Delivery", "Updated"}

// WriteXLSX renders the breakdown as a two-sheet workbook.
func WriteXLSX(w io.Writer, b Breakdown) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(ordersSheet); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := writeSummary(f, b, header); err != nil {
		return err
	}
	if err := writeOrders(f, b, header); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func writeSummary(f *excelize.File, b Breakdown, header int) error {
	if err := f.SetSheetRow(summarySheet, "A1", &[]any{"Status", "Orders"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", header); err != nil {
		return err
	}
	row := 2
	for _, s := range domain.ObservedStatuses {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(summarySheet, cell, &[]any{string(s), b.Orders[s]}); err != nil {
			return err
		}
		row++
	}
	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(summarySheet, cell, &[]any{"TOTAL", b.Total}); err != nil {
		return err
	}
	cell, _ = excelize.CoordinatesToCellName(1, row+2)
	if err := f.SetSheetRow(summarySheet, cell, &[]any{"Generated", b.GeneratedAt}); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "A", "A", 36)
}

func writeOrders(f *excelize.File, b Breakdown, header int) error {
	if err := f.SetSheetRow(ordersSheet, "A1", &orderColumns); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(orderColumns), 1)
	if err := f.SetCellStyle(ordersSheet, "A1", last, header); err != nil {
		return err
	}
	if err := f.SetPanes(ordersSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	for i, r := range b.Rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []any{r.ID, r.CustomerName, r.Zone, string(r.Observed),
			assignee(r, domain.TaskDesign), assignee(r, domain.TaskPrint), assignee(r, domain.TaskDelivery), r.UpdatedAt}
		if err := f.SetSheetRow(ordersSheet, cell, &values); err != nil {
			return err
		}
	}
	if len(b.Rows) > 0 {
		if err := f.AutoFilter(ordersSheet, "A1:"+last, nil); err != nil {
			return err
		}
	}
	return f.SetColWidth(ordersSheet, "B", "D", 28)
}

func assignee(r OrderRow, t domain.TaskType) any {
	if id, ok := r.Assignees[t]; ok {
		return id
	}
	return ""
}
