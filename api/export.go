package api

import (
	"fmt"
	"net/http"

	"github.com/warp/rent-ledger/billing"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// REVENUE EXPORT - XLSX workbook for finance
// =============================================================================

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportRevenueReport writes the revenue report as a workbook with
// Summary, By Type and By Month sheets.
func (h *Handler) ExportRevenueReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.revenueReport(w, r)
	if !ok {
		return
	}

	f, err := revenueWorkbook(report)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build workbook", err)
		return
	}
	defer f.Close()

	fileName := fmt.Sprintf("revenue_%s_%s.xlsx",
		billing.FormatDate(report.Range.Start), billing.FormatDate(report.Range.End))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
	if err := f.Write(w); err != nil {
		h.Logger.Sugar().Errorw("write workbook", "error", err)
	}
}

// revenueWorkbook writes amounts as the same exact decimal strings the JSON
// report carries.
func revenueWorkbook(report billing.RevenueReport) (*excelize.File, error) {
	f := excelize.NewFile()

	// NewFile starts with "Sheet1"; rename it rather than leave it empty.
	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return nil, err
	}
	summary := [][]any{
		{"Start", report.Range.Start.UTC().Format("2006-01-02 15:04:05")},
		{"End (exclusive)", report.Range.End.UTC().Format("2006-01-02 15:04:05")},
		{"Verified installments", report.Installments},
		{"Revenue", money(report.Revenue)},
		{"Profit", money(report.Profit)},
		{"Commission rate", billing.CommissionRate.String()},
	}
	if err := writeRows(f, "Summary", nil, summary); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet("By Type"); err != nil {
		return nil, err
	}
	byType := make([][]any, len(report.ByType))
	for i, t := range report.ByType {
		byType[i] = []any{string(t.Type), t.Count, money(t.Amount), money(t.Profit)}
	}
	if err := writeRows(f, "By Type", []string{"Type", "Count", "Revenue", "Profit"}, byType); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet("By Month"); err != nil {
		return nil, err
	}
	byMonth := make([][]any, len(report.ByMonth))
	for i, m := range report.ByMonth {
		byMonth[i] = []any{m.Month.Format("2006-01"), m.Count, money(m.Revenue), money(m.Profit)}
	}
	if err := writeRows(f, "By Month", []string{"Month", "Count", "Revenue", "Profit"}, byMonth); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)
	return f, nil
}

func writeRows(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	row := 1
	if len(headers) > 0 {
		for i, header := range headers {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, header); err != nil {
				return err
			}
		}
		row++
	}
	for _, values := range rows {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
		row++
	}
	return nil
}
