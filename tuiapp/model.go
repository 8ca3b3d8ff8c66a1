package tuiapp

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/micutio/airfuse/internal"
	"github.com/micutio/airfuse/internal/aggregate"
	"github.com/micutio/airfuse/internal/throttle"
)

// headerHeight is the number of lines taken by the header above the tables.
const headerHeight = 12

// trackedAircraft is an aircraft currently shown with its distance to the area centre.
type trackedAircraft struct {
	record internal.AircraftRecord
	dist   float64 // [km]
}

// Model implements the bubbletea.Model interface, which requires three methods:
// - Init() Cmd
// - Update(Msg) (Model, Cmd)
// - View() string
// This forms the base for the TUI app.
type model struct {
	width      int
	height     int
	baseStyle  lipgloss.Style
	viewStyle  lipgloss.Style
	theme      Theme
	tableStyle table.Styles
	state      uiState

	currentAircraftTbl autoFormatTable
	classTbl           autoFormatTable

	center      internal.Coordinates
	forgetAfter time.Duration
	now         func() time.Time
	metrics     func() throttle.Snapshot
	classConfig [len(throttle.Classes)]throttle.ClassConfig

	aircraft   map[string]trackedAircraft
	lastUpdate time.Time
	result     *aggregate.Result
	snapshot   throttle.Snapshot
}

func newModel(
	center internal.Coordinates,
	forgetAfter time.Duration,
	classConfig func(throttle.Class) throttle.ClassConfig,
	metrics func() throttle.Snapshot,
) *model {
	tableStyle := table.DefaultStyles()
	tableStyle.Selected = lipgloss.NewStyle().Background(Color.Highlight)

	m := &model{
		baseStyle:          lipgloss.NewStyle(),
		viewStyle:          lipgloss.NewStyle(),
		theme:              Color,
		tableStyle:         tableStyle,
		state:              mainPage,
		currentAircraftTbl: newCurrentAircraftTable(tableStyle),
		classTbl:           newClassTable(tableStyle),
		center:             center,
		forgetAfter:        forgetAfter,
		now:                time.Now,
		metrics:            metrics,
		aircraft:           make(map[string]trackedAircraft),
	}
	for _, class := range throttle.Classes {
		m.classConfig[class] = classConfig(class)
	}
	return m
}

// Init calls the updateTick function to set up a command that sends an UpdateTickMsg every second.
func (m *model) Init() tea.Cmd {
	return updateTick()
}

// Update takes a tea.Msg as input and uses a type switch to handle different types of messages.
// Each case in the switch statement corresponds to a specific message type.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) { //nolint:ireturn // required by interface
	switch thisMsg := msg.(type) {
	// message is sent when the window size changes
	// save to reflect the new dimensions of the terminal window.
	case tea.WindowSizeMsg:
		m.height = thisMsg.Height
		m.width = thisMsg.Width
		m.resizeTables()

	// message is sent when a key is pressed.
	case tea.KeyMsg:
		switch thisMsg.String() {
		// Toggles the focus state of the aircraft table
		case "esc":
			if m.currentAircraftTbl.table.Focused() {
				m.tableStyle.Selected = m.baseStyle
				m.currentAircraftTbl.table.SetStyles(m.tableStyle)
				m.currentAircraftTbl.table.Blur()
			} else {
				m.tableStyle.Selected = m.tableStyle.Selected.Background(m.theme.Highlight)
				m.currentAircraftTbl.table.SetStyles(m.tableStyle)
				m.currentAircraftTbl.table.Focus()
			}
		// Switches between the aircraft page and the statistics page.
		case "tab":
			if m.state == mainPage {
				m.state = globalStats
			} else {
				m.state = mainPage
			}
		// Moves the focus up in the aircraft table if the table is focused.
		case "up", "k":
			if m.currentAircraftTbl.table.Focused() {
				m.currentAircraftTbl.table.MoveUp(1)
			}
		// Moves the focus down in the aircraft table if the table is focused.
		case "down", "j":
			if m.currentAircraftTbl.table.Focused() {
				m.currentAircraftTbl.table.MoveDown(1)
			}
		// Quits the program by returning the tea.Quit command.
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case BatchMsg:
		m.storeBatch(thisMsg.Entries)
		m.refreshAircraftRows()

	case ResultMsg:
		m.result = thisMsg.Result

	case UpdateTickMsg:
		m.forget(time.Time(thisMsg))
		if m.metrics != nil {
			m.snapshot = m.metrics()
		}
		m.refreshAircraftRows()
		m.refreshClassRows()
		return m, updateTick()
	}

	// If the message type does not match any of the handled cases, the model is returned unchanged,
	// and no new command is issued.
	return m, nil
}

// storeBatch keeps the newest payload per aircraft. A payload older than the stored one arrives
// when the aircraft was queued in two classes and is discarded.
func (m *model) storeBatch(entries []throttle.Entry) {
	for i := range entries {
		record := entries[i].Payload
		if prev, ok := m.aircraft[entries[i].ID]; ok && record.LastUpdate.Before(prev.record.LastUpdate) {
			continue
		}
		pos := record.Position
		m.aircraft[entries[i].ID] = trackedAircraft{
			record: record,
			dist:   internal.Distance(m.center, internal.NewCoordinates(pos.Lat, pos.Lon)).Kilometers(),
		}
	}
	if len(entries) > 0 {
		m.lastUpdate = m.now()
	}
}

// forget removes aircraft without updates for forgetAfter.
func (m *model) forget(now time.Time) {
	if m.forgetAfter <= 0 {
		return
	}
	for id, ac := range m.aircraft {
		if now.Sub(ac.record.LastUpdate) > m.forgetAfter {
			delete(m.aircraft, id)
		}
	}
}

// sortedAircraft returns the tracked aircraft, closest first.
func (m *model) sortedAircraft() []trackedAircraft {
	sorted := make([]trackedAircraft, 0, len(m.aircraft))
	for _, ac := range m.aircraft {
		sorted = append(sorted, ac)
	}
	slices.SortFunc(sorted, func(a, b trackedAircraft) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return cmp.Compare(a.record.ID, b.record.ID)
	})
	return sorted
}

func (m *model) refreshAircraftRows() {
	sorted := m.sortedAircraft()
	rows := make([]table.Row, len(sorted))
	for i := range sorted {
		rows[i] = aircraftToRow(&sorted[i].record, sorted[i].dist)
	}
	m.currentAircraftTbl.table.SetRows(rows)
}

func (m *model) refreshClassRows() {
	rows := make([]table.Row, len(throttle.Classes))
	for i, class := range throttle.Classes {
		rows[i] = classToRow(class, m.snapshot.QueueDepth[class], m.classConfig[class])
	}
	m.classTbl.table.SetRows(rows)
}

func (m *model) resizeTables() {
	for _, aft := range []*autoFormatTable{&m.currentAircraftTbl, &m.classTbl} {
		// columns are fixed at construction, resize cannot fail
		_ = aft.resize(m.width)
	}
	m.currentAircraftTbl.SetHeight(max(m.height-headerHeight, 1))
}

func (m *model) View() string {
	// Sets the width of the column to the width of the terminal (m.width) and adds padding of 1 unit
	// on the top.
	column := m.baseStyle.Width(m.width).Padding(1, 0, 0, 0).Render

	body := m.viewAircraft()
	if m.state == globalStats {
		body = m.viewStats()
	}

	// Set the content to match the terminal dimensions (m.width and m.height).
	return m.baseStyle.
		Width(m.width).
		Height(m.height).
		Render(
			// Vertically join multiple elements aligned to the left.
			lipgloss.JoinVertical(lipgloss.Left,
				column(m.viewHeader()),
				column(body),
			),
		)
}

// Uses lipgloss.JoinVertical and lipgloss.JoinHorizontal to arrange the header content.
// It displays the last update time, the aggregation quality, the throttler counters and the
// highest and fastest aircraft.
func (m *model) viewHeader() string {
	// defines the style for list items, including borders, border color, height, and padding.
	list := m.baseStyle.
		Border(lipgloss.NormalBorder(), false, true, false, false).
		BorderForeground(m.theme.Border).
		Padding(0, 1)

	// Applies bold styling to the text.
	listHeader := m.baseStyle.Bold(true).Render

	// Helper function that formats a key-value pair.
	listItem := func(key string, value string) string {
		listItemValue := m.baseStyle.Align(lipgloss.Right).Render(value)
		listItemKey := m.baseStyle.Foreground(m.theme.Secondary).Render(key + ":")
		return fmt.Sprintf("%s %s ", listItemKey, listItemValue)
	}

	lastUpdate := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = fmt.Sprintf("%d seconds ago", int(m.now().Sub(m.lastUpdate).Seconds()))
	}

	quality := "waiting for first result"
	if r := m.result; r != nil {
		status := "live"
		switch {
		case r.Stale:
			status = "stale"
		case r.Cached:
			status = "cached"
		}
		quality = lipgloss.JoinHorizontal(lipgloss.Left,
			listItem("Score", fmt.Sprintf("%d", r.Quality.Score)),
			listItem("Coverage", m.coverageStyle(r.Quality.Coverage).Render(string(r.Quality.Coverage))),
			listItem("Sources", strings.Join(r.SourcesUsed, ",")),
			listItem("Failed", fmt.Sprintf("%d", len(r.Failures))),
			listItem("Result", status),
		)
	}

	s := m.snapshot
	counters := lipgloss.JoinHorizontal(lipgloss.Left,
		listItem("Received", fmt.Sprintf("%d", s.Received)),
		listItem("Processed", fmt.Sprintf("%d", s.Processed)),
		listItem("Dropped", fmt.Sprintf("%d", s.Dropped)),
		listItem("Evicted", fmt.Sprintf("%d", s.Evicted)),
		listItem("Superseded", fmt.Sprintf("%d", s.Superseded)),
	)

	rows := []string{
		fmt.Sprintf("Last update: %s, tracking %d aircraft", lastUpdate, len(m.aircraft)),
		list.Render(lipgloss.JoinVertical(lipgloss.Left, listHeader("Quality"), quality)),
		list.Render(lipgloss.JoinVertical(lipgloss.Left, listHeader("Throttle"), counters)),
	}

	if highest, fastest, ok := m.extremes(); ok {
		rows = append(rows,
			list.Render(lipgloss.JoinVertical(lipgloss.Left,
				listHeader("Highest"),
				lipgloss.JoinHorizontal(lipgloss.Left,
					listItem("ALT", highest.GetAltitudeAsStr()),
					listItem("FNO", highest.GetFlightNoAsStr()),
					listItem("TID", highest.AircraftType),
					listItem("REG", highest.Registration),
				),
			)),
			list.Render(lipgloss.JoinVertical(lipgloss.Left,
				listHeader("Fastest"),
				lipgloss.JoinHorizontal(lipgloss.Left,
					listItem("SPD", fmt.Sprintf("%3.0f", fastest.Position.GroundSpeedOr(0))),
					listItem("FNO", fastest.GetFlightNoAsStr()),
					listItem("TID", fastest.AircraftType),
					listItem("REG", fastest.Registration),
				),
			)),
		)
	}

	return m.viewStyle.Render(lipgloss.JoinVertical(lipgloss.Top, rows...))
}

// extremes returns the highest and the fastest airborne aircraft.
func (m *model) extremes() (highest, fastest *internal.AircraftRecord, ok bool) {
	for id := range m.aircraft {
		ac := m.aircraft[id].record
		if ac.Position.OnGround {
			continue
		}
		if highest == nil || ac.Position.AltitudeOr(0) > highest.Position.AltitudeOr(0) ||
			(ac.Position.AltitudeOr(0) == highest.Position.AltitudeOr(0) && ac.ID < highest.ID) {
			highest = &ac
		}
		if fastest == nil || ac.Position.GroundSpeedOr(0) > fastest.Position.GroundSpeedOr(0) ||
			(ac.Position.GroundSpeedOr(0) == fastest.Position.GroundSpeedOr(0) && ac.ID < fastest.ID) {
			fastest = &ac
		}
	}
	return highest, fastest, highest != nil
}

func (m *model) coverageStyle(c aggregate.Coverage) lipgloss.Style {
	switch c {
	case aggregate.CoverageExcellent:
		return m.baseStyle.Foreground(m.theme.Green)
	case aggregate.CoveragePoor:
		return m.baseStyle.Foreground(m.theme.Red)
	}
	return m.baseStyle
}

func (m *model) viewAircraft() string {
	return m.viewStyle.Render(m.currentAircraftTbl.table.View())
}

func (m *model) viewStats() string {
	lines := []string{m.classTbl.table.View()}
	if m.result != nil {
		for _, f := range m.result.Failures {
			lines = append(lines, fmt.Sprintf("%s failed (%s): %v", f.Source, f.Kind, f.Err))
		}
	}
	s := m.snapshot
	lines = append(lines, fmt.Sprintf("Batches: %d  Avg batch size: %.1f  Avg processing time: %s  Skipped ticks: %d",
		s.Batches, s.AvgBatchSize, s.AvgProcessingTime, s.SkippedTicks))
	return m.viewStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
