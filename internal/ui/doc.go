// Package ui provides terminal output for the brlink CLI.
//
// Frames render as single styled lines via RenderMessage and RenderEvent.
// Commands print curated headers and result boxes through a Printer, and
// the monitor command runs the Monitor Bubble Tea model for a live view of
// a link.
//
// # Monitor
//
//	events := make(chan link.Event, 64)
//	go func() {
//	    defer close(events)
//	    l.Run(ctx, func(ev link.Event) { events <- ev })
//	}()
//	p := tea.NewProgram(ui.NewMonitor(portName, events, l.Stats), tea.WithAltScreen())
//	_, err := p.Run()
//
// The monitor keeps the most recent frames in a rolling list. Closing the
// channel marks the link as stopped; the model keeps running until the user
// quits.
//
// # Logging Integration
//
// Logging is controlled via the BRLINK_LOG_LEVEL environment variable. When
// unset or empty, zap logging is silent so the curated UI output displays
// cleanly.
package ui
