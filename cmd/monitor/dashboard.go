package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"organ_report/internal/client"
	"organ_report/internal/domain"
)

const decisionsLimit = 250

type dashboard struct {
	api *client.Client
	app *tview.Application

	tasks     *tview.Table
	events    *tview.TextView
	report    *tview.TextView
	decisions *tview.TextView
	prompt    *tview.InputField
	status    *tview.TextView
	root      tview.Primitive

	mu       sync.Mutex
	selected string
	listed   []domain.Task

	// detailsGen discards detail fetches that finished after a newer one
	// was started.
	detailsGen atomic.Uint64

	streamMu     sync.Mutex
	streamTask   string
	streamCancel context.CancelFunc
}

func newDashboard(baseURL string, embedded bool) *dashboard {
	d := &dashboard{
		api: client.New(baseURL, nil),
		app: tview.NewApplication(),
	}

	d.tasks = tview.NewTable().SetBorders(false).SetSelectable(true, false)
	d.tasks.SetTitle("Tasks (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	d.events = tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	d.events.SetTitle("Events").SetBorder(true)
	d.events.SetChangedFunc(func() { d.events.ScrollToEnd() })

	d.report = tview.NewTextView().SetWrap(true)
	d.report.SetTitle("Report").SetBorder(true)

	d.decisions = tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	d.decisions.SetTitle("Decisions").SetBorder(true)

	d.prompt = tview.NewInputField().SetLabel("Prompt: ")
	d.prompt.SetBorder(true).SetTitle("Enter = create task")

	d.status = tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	d.status.SetBorder(true).SetTitle("Status")
	d.status.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | F10 quit, F5 refresh, Ctrl+L prompt, Ctrl+T tasks",
		d.api.BaseURL(), embedded,
	))

	detail := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.events, 0, 3, false).
		AddItem(d.report, 0, 3, false).
		AddItem(d.decisions, 0, 2, false)
	body := tview.NewFlex().
		AddItem(d.tasks, 0, 1, false).
		AddItem(detail, 0, 2, false)
	d.root = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 12, false).
		AddItem(d.prompt, 3, 0, true).
		AddItem(d.status, 3, 0, false)

	d.prompt.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			d.submit(d.prompt.GetText())
		}
	})
	d.tasks.SetSelectedFunc(func(row, _ int) {
		d.mu.Lock()
		if row <= 0 || row > len(d.listed) {
			d.mu.Unlock()
			return
		}
		id := d.listed[row-1].ID
		d.selected = id
		d.mu.Unlock()
		go d.showTask(id)
	})
	d.app.SetInputCapture(d.handleKey)
	return d
}

func (d *dashboard) waitReady(timeout time.Duration) error {
	return d.api.WaitHealth(context.Background(), timeout)
}

// Run blocks until the user quits.
func (d *dashboard) Run(interval time.Duration) error {
	go d.pollLoop(interval)
	return d.app.SetRoot(d.root, true).EnableMouse(true).SetFocus(d.prompt).Run()
}

func (d *dashboard) pollLoop(interval time.Duration) {
	d.refreshTasks()
	if id := d.pickInitial(); id != "" {
		d.showTask(id)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		d.refreshTasks()
		if id := d.current(); id != "" {
			d.showTask(id)
		}
	}
}

// pickInitial selects the first working task, or the newest one.
func (d *dashboard) pickInitial() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.listed {
		if t.Status.IsWorking() {
			d.selected = t.ID
			return t.ID
		}
	}
	if len(d.listed) > 0 {
		d.selected = d.listed[0].ID
	}
	return d.selected
}

func (d *dashboard) current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

func (d *dashboard) setStatus(msg string) {
	d.app.QueueUpdateDraw(func() { d.status.SetText(msg) })
}

func (d *dashboard) refreshTasks() {
	tasks, err := d.api.ListTasks(context.Background())
	if err != nil {
		d.app.QueueUpdateDraw(func() {
			d.tasks.Clear()
			d.tasks.SetCell(0, 0, tview.NewTableCell("load error: "+err.Error()).SetTextColor(tcell.ColorRed))
		})
		return
	}
	d.mu.Lock()
	d.listed = tasks
	selected := d.selected
	d.mu.Unlock()
	d.app.QueueUpdateDraw(func() {
		renderTasksTable(d.tasks, tasks, selected)
	})
}

// showTask follows the task's event stream and reloads its report and
// decisions.
func (d *dashboard) showTask(taskID string) {
	if strings.TrimSpace(taskID) == "" {
		return
	}
	d.follow(taskID)

	gen := d.detailsGen.Add(1)
	ctx := context.Background()
	var (
		wg        sync.WaitGroup
		snapshot  domain.Task
		taskErr   error
		decisions []domain.DecisionLog
		logErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		snapshot, taskErr = d.api.GetTask(ctx, taskID)
	}()
	go func() {
		defer wg.Done()
		decisions, logErr = d.api.ListTaskDecisions(ctx, taskID, decisionsLimit)
	}()
	wg.Wait()

	if d.detailsGen.Load() != gen {
		return
	}
	d.app.QueueUpdateDraw(func() {
		if taskID != d.current() {
			return
		}
		if taskErr != nil {
			d.report.SetText("error: " + taskErr.Error())
		} else {
			d.report.SetText(renderReport(snapshot))
		}
		if logErr != nil {
			d.decisions.SetText("error: " + logErr.Error())
		} else {
			d.decisions.SetText(renderDecisions(decisions))
		}
	})
}

// follow replaces the events pane with a live stream of taskID. A stream
// already attached to taskID is left alone.
func (d *dashboard) follow(taskID string) {
	d.streamMu.Lock()
	if d.streamTask == taskID && d.streamCancel != nil {
		d.streamMu.Unlock()
		return
	}
	if d.streamCancel != nil {
		d.streamCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.streamTask = taskID
	d.streamCancel = cancel
	d.streamMu.Unlock()

	d.app.QueueUpdateDraw(func() { d.events.SetText("") })
	go func() {
		final, err := d.api.Stream(ctx, taskID, 0, func(frame domain.StreamFrame) error {
			if frame.Event == nil {
				return nil
			}
			line := renderEvent(*frame.Event)
			d.app.QueueUpdateDraw(func() {
				if d.current() == taskID {
					fmt.Fprintln(d.events, line)
				}
			})
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		switch {
		case err == nil:
			d.setStatus(fmt.Sprintf("Task %s finished: %s", shortID(taskID), final.Status))
		case errors.Is(err, client.ErrStreamInterrupted):
			d.setStatus("Stream closed for " + shortID(taskID))
		default:
			d.setStatus("Stream error: " + err.Error())
		}
	}()
}

func (d *dashboard) submit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	d.status.SetText("Creating task from prompt...")
	d.prompt.SetText("")
	go func() {
		taskID, err := d.api.CreateTask(context.Background(), text)
		if err != nil {
			d.setStatus("Failed to create task: " + err.Error())
			return
		}
		d.mu.Lock()
		d.selected = taskID
		d.mu.Unlock()
		d.refreshTasks()
		d.showTask(taskID)
		d.setStatus("Task started: " + taskID)
	}()
}

func (d *dashboard) focusTasks() {
	d.app.SetFocus(d.tasks)
	d.status.SetText("Focus -> tasks")
}

func (d *dashboard) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if d.app.GetFocus() == d.prompt {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
			d.focusTasks()
			return nil
		}
		return event
	}

	switch event.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlT:
		d.focusTasks()
		return nil
	case tcell.KeyF10:
		d.app.Stop()
		return nil
	case tcell.KeyF5:
		go func() {
			d.refreshTasks()
			d.showTask(d.current())
		}()
		d.status.SetText("Manual refresh requested")
		return nil
	case tcell.KeyCtrlL, tcell.KeyTAB:
		d.app.SetFocus(d.prompt)
		d.status.SetText("Focus -> prompt")
		return nil
	case tcell.KeyRune:
		d.app.SetFocus(d.prompt)
		return event
	}
	return event
}
