package tuiapp

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/micutio/airfuse/internal/aggregate"
	"github.com/micutio/airfuse/internal/throttle"
)

// UpdateTickMsg refreshes the header and the queue statistics.
type UpdateTickMsg time.Time

func updateTick() tea.Cmd {
	return tea.Every(
		time.Second,
		func(t time.Time) tea.Msg {
			return UpdateTickMsg(t)
		},
	)
}

// BatchMsg carries one batch released by the throttler.
type BatchMsg struct {
	Class   throttle.Class
	Entries []throttle.Entry
}

// ResultMsg carries the latest aggregation result.
type ResultMsg struct {
	Result *aggregate.Result
}

// sender is satisfied by *tea.Program.
type sender interface {
	Send(msg tea.Msg)
}

// programConsumer hands released batches to the running program.
type programConsumer struct {
	program sender
}

// OnBatch forwards a copy of the batch to the program.
func (c programConsumer) OnBatch(class throttle.Class, entries []throttle.Entry) error {
	c.program.Send(BatchMsg{Class: class, Entries: append([]throttle.Entry(nil), entries...)})
	return nil
}

func (c programConsumer) onResult(result *aggregate.Result) {
	c.program.Send(ResultMsg{Result: result})
}
