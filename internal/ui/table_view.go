package ui

import (
	"cmp"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/nozo-moto/gnethogs/pkg/types"
)

type column int

const (
	colPID column = iota
	colUser
	colProgram
	colDevice
	colSent
	colReceived
	numColumns
)

var headers = [numColumns]string{"PID", "User", "Program", "Device", "Sent", "Received"}

func (c column) String() string { return headers[c] }

type tableRow struct {
	handle types.RowHandle
	row    types.Row
}

// TableView shows one row per live record. Rows are keyed by the handle the
// record store issued, so an update rewrites the same row.
type TableView struct {
	app   *tview.Application
	pages *tview.Pages
	table *tview.Table
	title string

	rows   map[types.RowHandle]types.Row
	sortBy column
	desc   bool
	filter string
	totals types.Totals
}

func NewTableView(app *tview.Application, title string) *TableView {
	tv := &TableView{
		app:    app,
		pages:  tview.NewPages(),
		table:  tview.NewTable(),
		title:  title,
		rows:   make(map[types.RowHandle]types.Row),
		sortBy: colSent,
		desc:   true,
	}

	tv.setupUI()
	return tv
}

func (tv *TableView) setupUI() {
	tv.table.SetBorders(false).SetBorder(true)
	tv.table.SetFixed(1, 0)
	tv.table.SetSelectable(true, false)
	tv.table.SetSelectedStyle(tcell.StyleDefault.Background(tcell.ColorDarkBlue))

	tv.setupEventHandlers()
	tv.pages.AddPage("table", tv.table, true, true)
	tv.render()
}

func (tv *TableView) setupEventHandlers() {
	tv.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() != tcell.KeyRune {
			return event
		}
		switch event.Rune() {
		case 's':
			tv.CycleSort()
			return nil
		case 'S':
			tv.ReverseSort()
			return nil
		case '/':
			tv.showFilterDialog()
			return nil
		}
		return event
	})
}

func (tv *TableView) showFilterDialog() {
	input := tview.NewInputField().
		SetLabel("Filter: ").
		SetFieldWidth(30).
		SetText(tv.filter)

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			tv.SetFilter(input.GetText())
		}
		tv.pages.RemovePage("filter")
		tv.app.SetFocus(tv.table)
	})

	form := tview.NewForm().
		AddFormItem(input)
	form.SetBorder(true).
		SetTitle(" Filter by program, user or device ").
		SetTitleAlign(tview.AlignCenter)

	tv.pages.AddPage("filter", modal(form, 50, 5), true, true)
	tv.app.SetFocus(input)
}

func modal(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

func (tv *TableView) AppendRow(h types.RowHandle, row types.Row) {
	tv.rows[h] = row
	tv.render()
}

func (tv *TableView) UpdateRow(h types.RowHandle, row types.Row) {
	if _, ok := tv.rows[h]; !ok {
		return
	}
	tv.rows[h] = row
	tv.render()
}

func (tv *TableView) RemoveRow(h types.RowHandle) {
	delete(tv.rows, h)
	tv.render()
}

// SetTotals keeps the totals for callers of Totals. The dashboard owns the
// totals bar.
func (tv *TableView) SetTotals(t types.Totals) {
	tv.totals = t
}

func (tv *TableView) Totals() types.Totals {
	return tv.totals
}

// CycleSort moves the sort to the next column.
func (tv *TableView) CycleSort() {
	tv.sortBy = (tv.sortBy + 1) % numColumns
	tv.render()
}

// ReverseSort flips the sort order.
func (tv *TableView) ReverseSort() {
	tv.desc = !tv.desc
	tv.render()
}

// SetFilter shows only rows whose program, user or device contains f,
// ignoring case.
func (tv *TableView) SetFilter(f string) {
	tv.filter = strings.TrimSpace(f)
	tv.render()
}

// Primitive is the widget to place in a layout.
func (tv *TableView) Primitive() tview.Primitive {
	return tv.pages
}

func (tv *TableView) visible() []tableRow {
	needle := strings.ToLower(tv.filter)
	out := make([]tableRow, 0, len(tv.rows))
	for h, row := range tv.rows {
		if needle != "" && !matches(row, needle) {
			continue
		}
		out = append(out, tableRow{handle: h, row: row})
	}

	sort.Slice(out, func(i, j int) bool {
		c := compare(out[i].row, out[j].row, tv.sortBy)
		if c == 0 {
			return out[i].handle < out[j].handle
		}
		if tv.desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

// matches compares against the text as displayed, so a filter for
// "unknown" finds rows without a program name.
func matches(row types.Row, needle string) bool {
	shown := cells(row)
	for _, col := range []column{colProgram, colUser, colDevice} {
		if strings.Contains(strings.ToLower(shown[col]), needle) {
			return true
		}
	}
	return false
}

func compare(a, b types.Row, by column) int {
	switch by {
	case colPID:
		return cmp.Compare(a.PID, b.PID)
	case colUser:
		return strings.Compare(a.User, b.User)
	case colProgram:
		return strings.Compare(a.Program, b.Program)
	case colDevice:
		return strings.Compare(a.Device, b.Device)
	case colSent:
		return cmp.Compare(a.Sent, b.Sent)
	default:
		return cmp.Compare(a.Received, b.Received)
	}
}

func (tv *TableView) render() {
	tv.table.Clear()

	for col := column(0); col < numColumns; col++ {
		label := col.String()
		if col == tv.sortBy {
			if tv.desc {
				label += " ▼"
			} else {
				label += " ▲"
			}
		}
		cell := tview.NewTableCell(label).
			SetTextColor(tcell.ColorYellow).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false).
			SetExpansion(1)
		tv.table.SetCell(0, int(col), cell)
	}

	rows := tv.visible()
	for i, r := range rows {
		for col, text := range cells(r.row) {
			cell := tview.NewTableCell(tview.Escape(text)).SetExpansion(1)
			if column(col) >= colSent {
				cell.SetAlign(tview.AlignRight)
			}
			tv.table.SetCell(i+1, col, cell)
		}
	}

	title := fmt.Sprintf(" %s (%d) ", tv.title, len(rows))
	if tv.filter != "" {
		title = fmt.Sprintf(" %s (%d/%d) filter: %s ", tv.title, len(rows), len(tv.rows), tview.Escape(tv.filter))
	}
	tv.table.SetTitle(title)
}

func cells(row types.Row) [numColumns]string {
	program := row.Program
	if program == "" {
		program = "unknown"
	}
	return [numColumns]string{
		strconv.Itoa(int(row.PID)),
		row.User,
		program,
		row.Device,
		formatRate(row.Sent),
		formatRate(row.Received),
	}
}

func formatRate(kbps float32) string {
	return fmt.Sprintf("%.3f", kbps)
}
