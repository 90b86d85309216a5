package ingest

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/yourorg/config-generator/pkg/batch"
	"github.com/yourorg/config-generator/pkg/db/models"
)

// Sheet names of generated workbooks
const (
	InputSheet  = "Input"
	FieldsSheet = "Fields"
)

// exampleRows is how many rows of the input sheet get the template name
// and drop lists prefilled.
const exampleRows = 50

// BuildWorkbook generates the xlsx input workbook for a template: an input
// sheet whose header lists the identity columns and the template's fields,
// and a sheet documenting each field.
func BuildWorkbook(templateName string, fields []models.TemplateField, opts batch.Options) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), InputSheet); err != nil {
		return nil, err
	}

	header := []string{opts.TemplateField, opts.SwitchNameField, opts.SwitchPortField}
	for _, field := range fields {
		header = append(header, field.FieldName)
	}
	if err := f.SetSheetRow(InputSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"305496"}},
	})
	if err != nil {
		return nil, err
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(InputSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(InputSheet, "A", lastCol, 20); err != nil {
		return nil, err
	}
	if err := f.SetPanes(InputSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	// prefill the template column and the default values
	for r := 2; r < 2+exampleRows; r++ {
		cell, _ := excelize.CoordinatesToCellName(1, r)
		if err := f.SetCellValue(InputSheet, cell, templateName); err != nil {
			return nil, err
		}
		for i, field := range fields {
			if field.DefaultValue == "" {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(4+i, r)
			if err := f.SetCellValue(InputSheet, cell, field.DefaultValue); err != nil {
				return nil, err
			}
		}
	}

	for i, field := range fields {
		if field.FieldType != models.FieldTypeBoolean {
			continue
		}
		col, _ := excelize.ColumnNumberToName(4 + i)
		dv := excelize.NewDataValidation(!field.Required)
		dv.Sqref = fmt.Sprintf("%s2:%s%d", col, col, 1+exampleRows)
		if err := dv.SetDropList([]string{"true", "false"}); err != nil {
			return nil, err
		}
		if err := f.AddDataValidation(InputSheet, dv); err != nil {
			return nil, err
		}
	}

	if err := writeFieldsSheet(f, fields, headerStyle); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf, nil
}

func writeFieldsSheet(f *excelize.File, fields []models.TemplateField, headerStyle int) error {
	if _, err := f.NewSheet(FieldsSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(FieldsSheet, "A1", &[]string{"field", "type", "required", "default"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(FieldsSheet, "A1", "D1", headerStyle); err != nil {
		return err
	}
	for i, field := range fields {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []string{field.FieldName, string(field.FieldType), strconv.FormatBool(field.Required), field.DefaultValue}
		if err := f.SetSheetRow(FieldsSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(FieldsSheet, "A", "D", 20)
}
