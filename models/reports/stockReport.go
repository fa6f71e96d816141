package reports

import (
	"fmt"
	"io"

	"github.com/NaturesProfit7/Warehouse-Automation/workflow"
	"github.com/xuri/excelize/v2"
)

// ExportStockXlsx writes the replenishment report as a spreadsheet for
// the purchaser. Rows arrive pre-sorted by urgency.
func ExportStockXlsx(w io.Writer, recs []*workflow.Recommendation) error {
	f := excelize.NewFile()
	sheetName := "Stock"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}
	_ = f.DeleteSheet("Sheet1")

	headings := []string{
		"SKU", "Name", "OnHand", "Reserved", "Available",
		"MinStock", "ParStock", "AvgDailyUsage", "DaysOfStock",
		"Urgency", "RecommendedOrderQty", "EstimatedStockout",
	}
	col := 'A'
	for _, h := range headings {
		f.SetCellValue(sheetName, string(col)+"1", h)
		col++
	}

	for i, rec := range recs {
		row := fmt.Sprint(i + 2)
		daysOfStock := ""
		if rec.DaysOfStock != nil {
			daysOfStock = fmt.Sprint(*rec.DaysOfStock)
		}
		stockout := ""
		if rec.EstimatedStockout != nil {
			stockout = rec.EstimatedStockout.Format("2006-01-02")
		}
		f.SetCellValue(sheetName, "A"+row, rec.BlankSku)
		f.SetCellValue(sheetName, "B"+row, rec.DisplayName)
		f.SetCellValue(sheetName, "C"+row, rec.OnHand)
		f.SetCellValue(sheetName, "D"+row, rec.Reserved)
		f.SetCellValue(sheetName, "E"+row, rec.Available)
		f.SetCellValue(sheetName, "F"+row, rec.MinStock)
		f.SetCellValue(sheetName, "G"+row, rec.ParStock)
		f.SetCellValue(sheetName, "H"+row, rec.AvgDailyUsage.StringFixed(2))
		f.SetCellValue(sheetName, "I"+row, daysOfStock)
		f.SetCellValue(sheetName, "J"+row, string(rec.Urgency))
		f.SetCellValue(sheetName, "K"+row, rec.RecommendedQty)
		f.SetCellValue(sheetName, "L"+row, stockout)
	}

	return f.Write(w)
}
