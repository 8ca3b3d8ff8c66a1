package tuiapp

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/table"

	"github.com/micutio/airfuse/internal"
	"github.com/micutio/airfuse/internal/throttle"
)

// Error types

var errColumnMismatch = errors.New("number of columns does not match number of format columns")

// Automated Table Formatting

type tableColumnSizingOption int

const (
	// fixed column width, regardless of table width.
	fixed tableColumnSizingOption = iota
	// relative column with, given as percentage of the total table width.
	relative
	// fill columns receive any remaining table space, evenly distributed.
	fill
)

type columnFormat struct {
	option tableColumnSizingOption
	value  float32
}

type tableFormat struct {
	columnSizes        []columnFormat
	fixedWidth         int     // fixedWidth is the total space taken up by all fixed-width columns.
	fillWidthCount     int     // fillWidthCount indicates how many columns have fill width.
	totalRelativeWidth float32 // how much width is taken by relative columns.
}

func newTableFormat(items ...columnFormat) tableFormat {
	var totalRelativeWidth float32
	fixedWidth := 0
	fillWidthCount := 0

	for _, item := range items {
		switch item.option {
		case relative:
			totalRelativeWidth += item.value
		case fixed:
			fixedWidth += int(item.value)
		case fill:
			fillWidthCount++
		}
	}

	return tableFormat{
		columnSizes:        items,
		fixedWidth:         fixedWidth,
		fillWidthCount:     fillWidthCount,
		totalRelativeWidth: totalRelativeWidth,
	}
}

// Integrated Formatted Table Type

type autoFormatTable struct {
	table  table.Model
	format tableFormat
}

// resize distributes newWidth over the columns. One cell of every column and the table border are
// reserved for padding.
func (aft *autoFormatTable) resize(newWidth int) error {
	columns := aft.table.Columns()
	columnCount := len(columns)
	if columnCount != len(aft.format.columnSizes) {
		return fmt.Errorf(
			"table.resize: %w -> %d in table, %d in tableFormat",
			errColumnMismatch,
			columnCount,
			len(aft.format.columnSizes))
	}

	adjustedWidth := max(newWidth-1-columnCount, 0)
	totalRelativeWidth := int(float32(adjustedWidth) * aft.format.totalRelativeWidth)
	totalFillWidth := max(adjustedWidth-totalRelativeWidth-aft.format.fixedWidth, 0)
	fillPerColumn := 0
	if aft.format.fillWidthCount > 0 {
		fillPerColumn = totalFillWidth / aft.format.fillWidthCount
	}

	for idx := range columnCount {
		format := aft.format.columnSizes[idx]
		switch format.option {
		case fixed:
			columns[idx].Width = int(format.value)
		case relative:
			columns[idx].Width = int(format.value * float32(adjustedWidth))
		case fill:
			columns[idx].Width = fillPerColumn
		}
	}

	aft.table.SetColumns(columns)
	aft.table.SetWidth(adjustedWidth)

	return nil
}

func (aft *autoFormatTable) SetHeight(height int) {
	aft.table.SetHeight(height)
}

func newCurrentAircraftTable(tableStyle table.Styles) autoFormatTable {
	dstLen := 7
	fnoLen := 10
	spdLen := 5
	initialTableHeight := 5
	format := newTableFormat(
		columnFormat{fixed, float32(dstLen)},
		columnFormat{fixed, float32(fnoLen)},
		columnFormat{fill, 0.0},
		columnFormat{fixed, float32(dstLen)},
		columnFormat{fixed, float32(spdLen)},
		columnFormat{fixed, float32(spdLen)},
		columnFormat{fixed, float32(spdLen)},
	)

	currentAircraftTbl := table.New(
		// table header
		table.WithColumns(
			[]table.Column{
				{Title: "DST", Width: dstLen},
				{Title: "FNO", Width: fnoLen},
				{Title: "TID", Width: 0},
				{Title: "ALT", Width: dstLen},
				{Title: "SPD", Width: spdLen},
				{Title: "HDG", Width: spdLen},
				{Title: "SRC", Width: spdLen},
			},
		),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(initialTableHeight),
		table.WithStyles(tableStyle),
	)

	return autoFormatTable{
		table:  currentAircraftTbl,
		format: format,
	}
}

func newClassTable(tableStyle table.Styles) autoFormatTable {
	classLen := 10
	countLen := 8
	initialTableHeight := len(throttle.Classes) + 1
	format := newTableFormat(
		columnFormat{fixed, float32(classLen)},
		columnFormat{fixed, float32(countLen)},
		columnFormat{fixed, float32(countLen)},
		columnFormat{fill, 0.0},
	)

	// Create a new table with specified columns and initial empty rows.
	classTbl := table.New(
		// table header
		table.WithColumns(
			[]table.Column{
				{Title: "Class", Width: classLen},
				{Title: "Queued", Width: countLen},
				{Title: "Batch", Width: countLen},
				{Title: "Tick", Width: countLen},
			},
		),
		table.WithRows([]table.Row{}),
		table.WithFocused(false),
		table.WithHeight(initialTableHeight),
		table.WithStyles(tableStyle),
	)

	return autoFormatTable{
		table:  classTbl,
		format: format,
	}
}

// aircraftToRow formats an aircraft, dist is its distance to the area centre in [km].
func aircraftToRow(aircraft *internal.AircraftRecord, dist float64) table.Row {
	aType := aircraft.AircraftType
	if aType == "" {
		aType = "n/a"
	}
	return table.Row{
		fmt.Sprintf("%4.0f", dist),
		aircraft.GetFlightNoAsStr(),
		aType,
		aircraft.GetAltitudeAsStr(),
		fmt.Sprintf("%3.0f", aircraft.Position.GroundSpeedOr(0)),
		fmt.Sprintf("%3.0f", aircraft.Position.HeadingOr(0)),
		fmt.Sprintf("%d", len(aircraft.Sources)),
	}
}

func classToRow(class throttle.Class, queued int, cfg throttle.ClassConfig) table.Row {
	return table.Row{
		class.String(),
		fmt.Sprintf("%6d", queued),
		fmt.Sprintf("%6d", cfg.BatchSize),
		cfg.TickInterval.String(),
	}
}
