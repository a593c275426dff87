package main

import (
	"context"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/lyallcooper/diskscan/internal/types"
)

// scanState is the part of the scanner the window needs
type scanState interface {
	CurrentState() types.SessionState
	StopScan() bool
}

// App struct holds the Wails application context and provides
// methods that can be called from the frontend.
type App struct {
	ctx     context.Context
	scanner scanState

	// confirm asks the user a yes/no question; swapped in tests
	confirm func(ctx context.Context, title, message string) bool
}

// NewApp creates a new App instance.
func NewApp(scanner scanState) *App {
	return &App{scanner: scanner, confirm: confirmDialog}
}

// startup is called when the app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

// beforeClose keeps the window open while a scan runs unless the user
// agrees to stop it. Returning true cancels the close.
func (a *App) beforeClose(ctx context.Context) bool {
	if !a.scanner.CurrentState().IsActive() {
		return false
	}
	if !a.confirm(ctx, "Scan in progress", "A scan is still running. Stop it and quit?") {
		return true
	}
	a.scanner.StopScan()
	return false
}

// Quit closes the window. Called from the web UI's quit button.
func (a *App) Quit() {
	if a.ctx != nil {
		runtime.Quit(a.ctx)
	}
}

func confirmDialog(ctx context.Context, title, message string) bool {
	answer, err := runtime.MessageDialog(ctx, runtime.MessageDialogOptions{
		Type:          runtime.QuestionDialog,
		Title:         title,
		Message:       message,
		Buttons:       []string{"Yes", "No"},
		DefaultButton: "No",
		CancelButton:  "No",
	})
	return err == nil && answer == "Yes"
}
