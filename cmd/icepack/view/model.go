// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package view

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/junegunn/fzf/src/util"
)

// listEntry pairs an archive entry with its current fuzzy match state.
type listEntry struct {
	entry     Entry
	score     int
	positions map[int]bool
}

// keyMap defines the viewer's key bindings.
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Filter key.Binding
	Escape key.Binding
	Quit   key.Binding
}

var defaultKeys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "previous entry")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next entry")),
	Filter: key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
	Escape: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear filter")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// model is the bubbletea model for the archive viewer: a fuzzy-filtered
// entry list on the left, a payload preview on the right.
type model struct {
	source  Source
	entries []Entry
	keys    keyMap

	filter  textinput.Model
	preview viewport.Model
	slab    *util.Slab

	visible  []listEntry
	cursor   int
	width    int
	height   int
	ready    bool
	quitting bool

	// previewFor is the entry name the preview pane currently shows,
	// so payload extraction runs once per selection change.
	previewFor string
	loadError  string
}

func newModel(source Source) model {
	filter := textinput.New()
	filter.Placeholder = "type to filter"
	filter.Prompt = "/ "

	m := model{
		source:  source,
		entries: source.Entries(),
		keys:    defaultKeys,
		filter:  filter,
		slab:    util.MakeSlab(100*1024, 2048),
	}
	m.applyFilter()
	return m
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.preview = viewport.New(m.previewWidth(), m.paneHeight())
		m.ready = true
		m.previewFor = ""
		m.syncPreview()
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) && !m.filter.Focused() {
			m.quitting = true
			return m, tea.Quit
		}

		switch {
		case m.filter.Focused():
			switch {
			case msg.Type == tea.KeyEnter:
				m.filter.Blur()
			case key.Matches(msg, m.keys.Escape):
				m.filter.Blur()
				m.filter.SetValue("")
				m.applyFilter()
				m.syncPreview()
			default:
				var cmd tea.Cmd
				m.filter, cmd = m.filter.Update(msg)
				m.applyFilter()
				m.syncPreview()
				return m, cmd
			}

		case key.Matches(msg, m.keys.Filter):
			m.filter.Focus()
			return m, textinput.Blink

		case key.Matches(msg, m.keys.Escape):
			m.filter.SetValue("")
			m.applyFilter()
			m.syncPreview()

		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
				m.syncPreview()
			}

		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.visible)-1 {
				m.cursor++
				m.syncPreview()
			}

		default:
			var cmd tea.Cmd
			m.preview, cmd = m.preview.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

// applyFilter recomputes the visible list from the filter input. An
// empty filter shows every entry in archive order; otherwise entries
// are scored with fzf and sorted best-first.
func (m *model) applyFilter() {
	pattern := lowerPattern(m.filter.Value())

	m.visible = m.visible[:0]
	for _, entry := range m.entries {
		if len(pattern) == 0 {
			m.visible = append(m.visible, listEntry{entry: entry})
			continue
		}
		result := fuzzyMatch(entry.Name, pattern, m.slab)
		if result.Score <= 0 {
			continue
		}
		positions := make(map[int]bool, len(result.Positions))
		for _, position := range result.Positions {
			positions[position] = true
		}
		m.visible = append(m.visible, listEntry{entry: entry, score: result.Score, positions: positions})
	}

	if len(pattern) > 0 {
		sort.SliceStable(m.visible, func(i, j int) bool {
			return m.visible[i].score > m.visible[j].score
		})
	}

	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// syncPreview loads the selected entry's payload into the preview pane
// if the selection changed.
func (m *model) syncPreview() {
	if !m.ready {
		return
	}
	if len(m.visible) == 0 {
		m.previewFor = ""
		m.preview.SetContent("(no matching entries)")
		return
	}

	selected := m.visible[m.cursor].entry
	if selected.Name == m.previewFor {
		return
	}
	m.previewFor = selected.Name
	m.loadError = ""

	if !selected.HasPayload {
		m.preview.SetContent(fmt.Sprintf("%s entry — no payload", selected.Type))
		m.preview.GotoTop()
		return
	}

	payload, err := m.source.Payload(selected.Name)
	if err != nil {
		m.loadError = err.Error()
		m.preview.SetContent("error: " + err.Error())
		m.preview.GotoTop()
		return
	}
	m.preview.SetContent(renderPreview(selected.Name, payload))
	m.preview.GotoTop()
}

func (m model) listWidth() int {
	width := m.width * 2 / 5
	if width < 24 {
		width = 24
	}
	return width
}

func (m model) previewWidth() int {
	width := m.width - m.listWidth() - 3
	if width < 20 {
		width = 20
	}
	return width
}

// paneHeight is the terminal height minus the title, filter, and
// status lines.
func (m model) paneHeight() int {
	height := m.height - 4
	if height < 3 {
		height = 3
	}
	return height
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	cursorStyle   = lipgloss.NewStyle().Reverse(true)
	matchStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	dividerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading…"
	}

	list := m.renderList()
	divider := dividerStyle.Render(strings.TrimSuffix(strings.Repeat("│\n", m.paneHeight()), "\n"))
	content := lipgloss.JoinHorizontal(lipgloss.Top, list, divider, m.preview.View())

	status := fmt.Sprintf("%d/%d entries", len(m.visible), len(m.entries))
	if m.loadError != "" {
		status = m.loadError
	}

	return strings.Join([]string{
		titleStyle.Render(ansi.Truncate(m.source.Title(), m.width, "…")),
		m.filter.View(),
		content,
		statusStyle.Render(ansi.Truncate(status+"  (/ filter, ↑/↓ move, q quit)", m.width, "…")),
	}, "\n")
}

// renderList renders the entry list pane with the cursor row reversed
// and fuzzy match positions highlighted.
func (m model) renderList() string {
	width := m.listWidth()
	height := m.paneHeight()

	// Scroll the window so the cursor stays visible.
	top := 0
	if m.cursor >= height {
		top = m.cursor - height + 1
	}

	rows := make([]string, 0, height)
	for i := top; i < len(m.visible) && len(rows) < height; i++ {
		item := m.visible[i]
		label := item.entry.Name
		suffix := dimStyle.Render(" " + item.entry.Type)

		var rendered string
		if len(item.positions) > 0 {
			var b strings.Builder
			for index, r := range []rune(label) {
				if item.positions[index] {
					b.WriteString(matchStyle.Render(string(r)))
				} else {
					b.WriteRune(r)
				}
			}
			rendered = b.String()
		} else {
			rendered = label
		}

		row := ansi.Truncate(rendered+suffix, width-2, "…")
		if i == m.cursor {
			row = cursorStyle.Render(ansi.Strip(row))
		}
		rows = append(rows, lipgloss.NewStyle().Width(width).MaxWidth(width).Render(row))
	}
	for len(rows) < height {
		rows = append(rows, strings.Repeat(" ", width))
	}
	return strings.Join(rows, "\n")
}
