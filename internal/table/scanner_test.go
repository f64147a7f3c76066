package table_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/automation"
	"github.com/xkilldash9x/settle-cli/internal/config"
	"github.com/xkilldash9x/settle-cli/internal/mocks"
	"github.com/xkilldash9x/settle-cli/internal/table"
)

const selectedState = "input:checked"

var (
	rowsLoc  = automation.CSS("#grid tbody tr")
	cellsLoc = automation.CSS("td")
	markLoc  = automation.CSS("input[type=checkbox]")
	firstLoc = automation.CSS("#first")
	prevLoc  = automation.CSS("#prev")
	nextLoc  = automation.CSS("#next")
)

// fakeTable renders a paginated grid onto a FakePage. Each page change builds
// fresh row elements and detaches the old ones, like a real re-render.
type fakeTable struct {
	t    *testing.T
	page *mocks.FakePage

	mu       sync.Mutex
	data     [][]string
	current  int
	rows     []*mocks.FakeElement
	selected map[string]bool
	noMark   map[string]bool
	offMark  map[string]bool
	failMark map[string]bool
	// endless makes next always enabled and generate a new page.
	endless bool

	first, prev, next *mocks.FakeElement
}

func newFakeTable(t *testing.T, withFirst bool, pages ...[]string) *fakeTable {
	t.Helper()
	ft := &fakeTable{
		t:        t,
		page:     mocks.NewFakePage(),
		data:     pages,
		selected: map[string]bool{},
		noMark:   map[string]bool{},
		offMark:  map[string]bool{},
		failMark: map[string]bool{},
		prev:     mocks.NewFakeElement("prev"),
		next:     mocks.NewFakeElement("next"),
	}
	ft.prev.OnClick = func(string) { ft.show(ft.index() - 1) }
	ft.next.OnClick = func(string) { ft.show(ft.index() + 1) }
	ft.page.Put(prevLoc, ft.prev)
	ft.page.Put(nextLoc, ft.next)
	if withFirst {
		ft.first = mocks.NewFakeElement("first")
		ft.first.OnClick = func(string) { ft.show(0) }
		ft.page.Put(firstLoc, ft.first)
	}
	ft.page.FindHook = func(frame *automation.Frame, loc automation.Locator) ([]automation.Element, bool) {
		if frame != nil || loc != rowsLoc {
			return nil, false
		}
		ft.mu.Lock()
		defer ft.mu.Unlock()
		out := make([]automation.Element, len(ft.rows))
		for i, r := range ft.rows {
			out[i] = r
		}
		return out, true
	}
	return ft
}

func (ft *fakeTable) index() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.current
}

// show renders page i. Call it only after configuring row flags.
func (ft *fakeTable) show(i int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.endless && i >= len(ft.data) {
		ft.data = append(ft.data, []string{fmt.Sprintf("gen-%d", i)})
	}
	if i < 0 || i >= len(ft.data) {
		return
	}
	for _, r := range ft.rows {
		r.Detach()
	}
	ft.current = i
	ft.rows = ft.rows[:0:0]
	for _, id := range ft.data[i] {
		ft.rows = append(ft.rows, ft.renderRow(id))
	}
	atStart := i == 0
	if ft.first != nil {
		ft.first.SetDisabled(atStart)
	}
	ft.prev.SetDisabled(atStart)
	ft.next.SetDisabled(!ft.endless && i == len(ft.data)-1)
}

func (ft *fakeTable) renderRow(id string) *mocks.FakeElement {
	row := mocks.NewFakeElement("row-" + id)
	if id == "" {
		// Footer row with a single spanning cell.
		return row.AddChild(cellsLoc, mocks.NewFakeElement("footer").WithText("Total"))
	}
	row.AddChild(cellsLoc,
		mocks.NewFakeElement("id").WithText(" "+id+" "),
		mocks.NewFakeElement("label").WithText("Contract "+id),
		mocks.NewFakeElement("value").WithText("R$ 1.234,56"),
	)
	if ft.noMark[id] {
		return row
	}
	mark := mocks.NewFakeElement("mark-" + id)
	if ft.selected[id] {
		mark.SetMatch(selectedState, true)
	}
	if ft.offMark[id] {
		mark.SetDisabled(true)
	}
	if ft.failMark[id] {
		for _, op := range []string{"native", "pointer", "script", "dispatch"} {
			mark.Fail(op, fmt.Errorf("intercepted"))
		}
	}
	mark.OnClick = func(string) {
		ft.mu.Lock()
		ft.selected[id] = !ft.selected[id]
		on := ft.selected[id]
		ft.mu.Unlock()
		mark.SetMatch(selectedState, on)
	}
	return row.AddChild(markLoc, mark)
}

func (ft *fakeTable) isSelected(id string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.selected[id]
}

func tableConfig() config.TableConfig {
	return config.TableConfig{
		Rows:             rowsLoc.Value,
		Cells:            cellsLoc.Value,
		MinCells:         3,
		IDColumn:         0,
		ValueColumn:      2,
		MarkControl:      []string{markLoc.Value},
		SelectedState:    selectedState,
		FirstPage:        []string{firstLoc.Value},
		PreviousPage:     []string{prevLoc.Value},
		NextPage:         []string{nextLoc.Value},
		PageCeiling:      50,
		ResetMaxPrevious: 10,
		PageSettle:       200 * time.Millisecond,
	}
}

func scannerAutomationConfig() config.AutomationConfig {
	return config.AutomationConfig{
		ElementTimeout: 40 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		ActionTimeout:  time.Second,
	}
}

func newScanner(t *testing.T, ft *fakeTable, cfg config.TableConfig) *table.Scanner {
	t.Helper()
	return table.NewScanner(ft.page, cfg, scannerAutomationConfig(), automation.Root(), zaptest.NewLogger(t))
}

func TestScanner_SelectOnLaterPage(t *testing.T) {
	ft := newFakeTable(t, true, []string{"1001", "1002"}, []string{"2001", ""}, []string{"3001", "3002"})
	ft.show(0)
	s := newScanner(t, ft, tableConfig())

	out, err := s.Search(context.Background(), "3002", table.Select)
	require.NoError(t, err)

	assert.True(t, out.Found)
	assert.True(t, out.Marked)
	assert.Equal(t, 3, out.PageFound)
	assert.Empty(t, out.FailureReason)
	require.True(t, out.HasValue)
	assert.True(t, out.Value.Equal(decimal.RequireFromString("1234.56")), "got %s", out.Value)
	assert.True(t, ft.isSelected("3002"))
	assert.Len(t, ft.next.Clicks(), 2)
	assert.Empty(t, ft.first.Clicks(), "already on the first page")
}

func TestScanner_ResetsBeforeEverySearch(t *testing.T) {
	ft := newFakeTable(t, true, []string{"1001"}, []string{"2001"})
	ft.show(0)
	s := newScanner(t, ft, tableConfig())
	ctx := context.Background()

	out, err := s.Search(ctx, "2001", table.Locate)
	require.NoError(t, err)
	assert.Equal(t, 2, out.PageFound)
	assert.Equal(t, 1, ft.index())

	out, err = s.Search(ctx, "1001", table.Locate)
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.Equal(t, 1, out.PageFound)
	assert.Len(t, ft.first.Clicks(), 1)
}

func TestScanner_ResetFallsBackToPrevious(t *testing.T) {
	ft := newFakeTable(t, false, []string{"1001"}, []string{"2001"}, []string{"3001"})
	ft.show(2)
	s := newScanner(t, ft, tableConfig())

	out, err := s.Search(context.Background(), "1001", table.Locate)
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.Equal(t, 1, out.PageFound)
	assert.Len(t, ft.prev.Clicks(), 2, "previous is clicked until it is disabled")
}

func TestScanner_ResetFallsBackWhenFirstControlFails(t *testing.T) {
	ft := newFakeTable(t, true, []string{"1001"}, []string{"2001"}, []string{"3001"})
	for _, op := range []string{"native", "pointer", "script", "dispatch"} {
		ft.first.Fail(op, fmt.Errorf("detached from paginator"))
	}
	ft.show(2)
	s := newScanner(t, ft, tableConfig())

	out, err := s.Search(context.Background(), "1001", table.Locate)
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.Equal(t, 1, out.PageFound)
	assert.Empty(t, ft.first.Clicks())
	assert.Len(t, ft.prev.Clicks(), 2)
	assert.Equal(t, 0, ft.index())
}

func TestScanner_UnknownSelectionStateTrustsCaller(t *testing.T) {
	ft := newFakeTable(t, true, []string{"1001", "1002"})
	ft.show(0)
	cfg := tableConfig()
	cfg.SelectedState = ""
	s := newScanner(t, ft, cfg)
	ctx := context.Background()

	out, err := s.Search(ctx, "1001", table.Select)
	require.NoError(t, err)
	require.True(t, out.Marked)
	require.True(t, ft.isSelected("1001"))

	out, err = s.Search(ctx, "1001", table.Deselect)
	require.NoError(t, err)
	assert.True(t, out.Marked)
	assert.Empty(t, out.FailureReason)
	assert.False(t, ft.isSelected("1001"), "deselect must toggle the row when its state cannot be read")
}

func TestScanner_NotFound(t *testing.T) {
	ft := newFakeTable(t, true, []string{"1001"}, []string{"2001"})
	ft.show(0)
	s := newScanner(t, ft, tableConfig())

	out, err := s.Search(context.Background(), "9999", table.Select)
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.False(t, out.Marked)
	assert.Equal(t, schemas.ReasonNotFound, out.FailureReason)
	assert.Len(t, ft.next.Clicks(), 1, "scan stops when next is disabled")
}

func TestScanner_ExactIDMatch(t *testing.T) {
	ft := newFakeTable(t, true, []string{"10010", "1001"})
	ft.show(0)
	s := newScanner(t, ft, tableConfig())

	out, err := s.Search(context.Background(), "1001", table.Select)
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.True(t, ft.isSelected("1001"))
	assert.False(t, ft.isSelected("10010"))
}

func TestScanner_PageCeiling(t *testing.T) {
	ft := newFakeTable(t, true, []string{"1001"})
	ft.endless = true
	ft.show(0)
	cfg := tableConfig()
	cfg.PageCeiling = 5
	s := newScanner(t, ft, cfg)

	out, err := s.Search(context.Background(), "9999", table.Locate)
	require.NoError(t, err)
	assert.Equal(t, schemas.ReasonNotFound, out.FailureReason)
	assert.Len(t, ft.next.Clicks(), 4, "pages 2 through 5 are visited")
}

func TestScanner_MarkStates(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(ft *fakeTable)
		intent     table.Intent
		wantMarked bool
		wantReason string
		wantState  bool
	}{
		{
			name:       "already selected",
			setup:      func(ft *fakeTable) { ft.selected["1001"] = true },
			intent:     table.Select,
			wantMarked: true,
			wantState:  true,
		},
		{
			name:       "deselect selected row",
			setup:      func(ft *fakeTable) { ft.selected["1001"] = true },
			intent:     table.Deselect,
			wantMarked: true,
			wantState:  false,
		},
		{
			name:       "deselect unselected row",
			setup:      func(ft *fakeTable) {},
			intent:     table.Deselect,
			wantMarked: true,
			wantState:  false,
		},
		{
			name:       "control missing",
			setup:      func(ft *fakeTable) { ft.noMark["1001"] = true },
			intent:     table.Select,
			wantReason: schemas.ReasonMarkControlMissing,
		},
		{
			name:       "control disabled",
			setup:      func(ft *fakeTable) { ft.offMark["1001"] = true },
			intent:     table.Select,
			wantReason: schemas.ReasonMarkControlOff,
		},
		{
			name:       "activation fails",
			setup:      func(ft *fakeTable) { ft.failMark["1001"] = true },
			intent:     table.Select,
			wantReason: schemas.ReasonActivationFailed,
		},
		{
			name:       "locate leaves row alone",
			setup:      func(ft *fakeTable) {},
			intent:     table.Locate,
			wantMarked: false,
			wantState:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTable(t, true, []string{"1001"})
			tt.setup(ft)
			ft.show(0)
			s := newScanner(t, ft, tableConfig())

			out, err := s.Search(context.Background(), "1001", tt.intent)
			require.NoError(t, err)
			assert.True(t, out.Found)
			assert.Equal(t, tt.wantMarked, out.Marked)
			assert.Equal(t, tt.wantReason, out.FailureReason)
			assert.Equal(t, tt.wantState, ft.isSelected("1001"))
		})
	}
}

func TestScanner_Cancelled(t *testing.T) {
	ft := newFakeTable(t, true, []string{"1001"})
	ft.show(0)
	s := newScanner(t, ft, tableConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Search(ctx, "1001", table.Select)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ft.isSelected("1001"))
}

func TestIntent_String(t *testing.T) {
	assert.Equal(t, "locate", table.Locate.String())
	assert.Equal(t, "select", table.Select.String())
	assert.Equal(t, "deselect", table.Deselect.String())
}
