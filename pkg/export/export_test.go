package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Timetable X IPA 1",
		Headers: []string{"Period", "Time", "Monday", "Tuesday"},
		Rows: []map[string]string{
			{"Period": "1", "Time": "07:00-07:45", "Monday": "Matematika (Bu Sari)", "Tuesday": ""},
			{"Period": "2", "Time": "07:45-08:00", "Monday": "BREAK", "Tuesday": "BREAK"},
		},
	}
}

func TestDatasetRecordsFollowHeaders(t *testing.T) {
	records := sampleDataset().Records()
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", "07:00-07:45", "Matematika (Bu Sari)", ""}, records[0])
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, "Period,Time,Monday,Tuesday\n1,07:00-07:45,Matematika (Bu Sari),\n2,07:45-08:00,BREAK,BREAK\n", string(out))

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestXLSXExporterRender(t *testing.T) {
	out, err := NewXLSXExporter().Render(sampleDataset())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue(defaultSheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Timetable X IPA 1", title)
	header, err := f.GetCellValue(defaultSheetName, "C3")
	require.NoError(t, err)
	assert.Equal(t, "Monday", header)
	value, err := f.GetCellValue(defaultSheetName, "C4")
	require.NoError(t, err)
	assert.Equal(t, "Matematika (Bu Sari)", value)
}

func TestColumnWidthsFillPage(t *testing.T) {
	widths := columnWidths(7)
	total := 0.0
	for _, w := range widths {
		total += w
	}
	assert.InDelta(t, pdfPageWidth, total, 0.001)
	assert.Equal(t, pdfLeadColWidth, widths[0])
}
