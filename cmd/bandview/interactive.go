package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wombatlabs/codeband/diag"
)

var (
	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type viewTab int

const (
	tabBands viewTab = iota
	tabModules
	tabRegions
	numTabs
)

func (t viewTab) String() string {
	switch t {
	case tabBands:
		return "Bands"
	case tabModules:
		return "Modules"
	case tabRegions:
		return "Regions"
	}
	return "?"
}

type viewModel struct {
	err      error
	filename string
	block    *diag.Block
	tables   [numTabs]table.Model
	tab      viewTab
}

type blockLoadedMsg struct {
	err   error
	block *diag.Block
}

func newViewModel(filename string) *viewModel {
	return &viewModel{filename: filename}
}

func (m *viewModel) Init() tea.Cmd {
	return m.loadBlock
}

func (m *viewModel) loadBlock() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return blockLoadedMsg{err: err}
	}
	block, err := diag.DecodeBlock(data)
	if err != nil {
		return blockLoadedMsg{err: err}
	}
	return blockLoadedMsg{block: block}
}

func (m *viewModel) buildTables() {
	bandRows := make([]table.Row, 0, len(m.block.Bands))
	for _, b := range m.block.Bands {
		bandRows = append(bandRows, table.Row{
			b.Kind.String(),
			fmt.Sprintf("%#x", b.Base),
			fmt.Sprintf("%#x", b.End),
			sizeStr(b.End - b.Base),
		})
	}
	m.tables[tabBands] = newTable([]table.Column{
		{Title: "Band", Width: 6},
		{Title: "Base", Width: 18},
		{Title: "End", Width: 18},
		{Title: "Size", Width: 10},
	}, bandRows)

	moduleRows := make([]table.Row, 0, len(m.block.Modules))
	for _, mod := range m.block.Modules {
		confined := "yes"
		if mod.LoadedBase < mod.ExpectedBase || mod.LoadedBase+mod.LoadedSize > mod.ExpectedEnd {
			confined = "NO"
		}
		moduleRows = append(moduleRows, table.Row{
			fmt.Sprint(mod.Slot),
			mod.Name,
			fmt.Sprintf("%#x", mod.LoadedBase),
			sizeStr(mod.LoadedSize),
			confined,
		})
	}
	m.tables[tabModules] = newTable([]table.Column{
		{Title: "Slot", Width: 4},
		{Title: "Name", Width: 24},
		{Title: "Base", Width: 18},
		{Title: "Size", Width: 10},
		{Title: "Confined", Width: 8},
	}, moduleRows)

	regionRows := make([]table.Row, 0, len(m.block.Regions))
	for _, r := range m.block.Regions {
		regionRows = append(regionRows, table.Row{
			r.Tier.String(),
			r.State.String(),
			fmt.Sprintf("%#x", r.Base),
			sizeStr(r.End - r.Base),
		})
	}
	m.tables[tabRegions] = newTable([]table.Column{
		{Title: "Tier", Width: 9},
		{Title: "State", Width: 9},
		{Title: "Base", Width: 18},
		{Title: "Size", Width: 10},
	}, regionRows)
}

func newTable(cols []table.Column, rows []table.Row) table.Model {
	height := len(rows) + 1
	if height > 16 {
		height = 16
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithHeight(height),
		table.WithFocused(true),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(lipgloss.Color("#87CEEB"))
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(s)
	return t
}

func (m *viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab", "right", "l":
			m.tab = (m.tab + 1) % numTabs
			return m, nil
		case "shift+tab", "left", "h":
			m.tab = (m.tab + numTabs - 1) % numTabs
			return m, nil
		}

	case blockLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.block = msg.block
		m.buildTables()
		return m, nil
	}

	if m.block != nil {
		var cmd tea.Cmd
		m.tables[m.tab], cmd = m.tables[m.tab].Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *viewModel) View() string {
	if m.err != nil {
		return alertStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.block == nil {
		return "Loading diagnostics block..."
	}

	var b strings.Builder
	b.WriteString(headingStyle.Render("Band View"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	for t := viewTab(0); t < numTabs; t++ {
		if t == m.tab {
			b.WriteString(activeTabStyle.Render(t.String()))
		} else {
			b.WriteString(tabStyle.Render(t.String()))
		}
	}
	b.WriteString("\n\n")
	b.WriteString(m.tables[m.tab].View())
	b.WriteString("\n\n")

	c := m.block.Counters
	b.WriteString(labelStyle.Render("transitions ") + valueStyle.Render(fmt.Sprint(c.ExecTransitions)))
	b.WriteString(labelStyle.Render("  denials ") + valueStyle.Render(fmt.Sprint(c.ExecDenials)))
	b.WriteString(labelStyle.Render("  seals ") + valueStyle.Render(fmt.Sprint(c.JitSeals)))
	if c.Violations > 0 {
		b.WriteString(labelStyle.Render("  violations ") + alertStyle.Render(fmt.Sprint(c.Violations)))
	} else {
		b.WriteString(labelStyle.Render("  violations ") + valueStyle.Render("0"))
	}
	if m.block.LastCrash != 0 {
		b.WriteString("\n" + alertStyle.Render(fmt.Sprintf("last crash record at %#x", m.block.LastCrash)))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("tab/←/→ switch view • ↑/↓ scroll • q quit"))
	return b.String()
}

func runInteractive(filename string) error {
	p := tea.NewProgram(newViewModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
