package tuiapp

type uiState int

const (
	mainPage    uiState = iota // first page on startup, showing current aircraft
	globalStats                // second page, showing queues and source failures
)
