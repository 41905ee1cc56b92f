package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/sync"
)

var (
	titleStyle    = cyan.Bold(true)
	selectedStyle = green.Bold(true)
	helpStyle     = gray
)

type conflictKeys struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Local  key.Binding
	Remote key.Binding
	Skip   key.Binding
	Quit   key.Binding
}

func (k conflictKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Select, k.Local, k.Remote, k.Skip, k.Quit}
}

func (k conflictKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Select}, {k.Local, k.Remote, k.Skip, k.Quit}}
}

var defaultConflictKeys = conflictKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Select: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "choose")),
	Local:  key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "keep local")),
	Remote: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "keep remote")),
	Skip:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip")),
	Quit:   key.NewBinding(key.WithKeys("esc", "ctrl+c", "q"), key.WithHelp("esc", "skip and quit")),
}

var conflictChoices = []sync.Resolution{sync.ResolveKeepLocal, sync.ResolveKeepRemote, sync.ResolveSkip}

type conflictModel struct {
	conflict *sync.Conflict
	keys     conflictKeys
	help     help.Model
	cursor   int
	choice   sync.Resolution
	done     bool
}

func newConflictModel(c *sync.Conflict) conflictModel {
	return conflictModel{
		conflict: c,
		keys:     defaultConflictKeys,
		help:     help.New(),
		choice:   sync.ResolveSkip,
	}
}

func (m conflictModel) Init() tea.Cmd {
	return nil
}

func (m conflictModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m.finish(sync.ResolveSkip)
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(conflictChoices)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Select):
			return m.finish(conflictChoices[m.cursor])
		case key.Matches(msg, m.keys.Local):
			return m.finish(sync.ResolveKeepLocal)
		case key.Matches(msg, m.keys.Remote):
			return m.finish(sync.ResolveKeepRemote)
		case key.Matches(msg, m.keys.Skip):
			return m.finish(sync.ResolveSkip)
		}
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
	}
	return m, nil
}

func (m conflictModel) finish(r sync.Resolution) (tea.Model, tea.Cmd) {
	m.choice = r
	m.done = true
	return m, tea.Quit
}

func (m conflictModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Both sides changed"))
	b.WriteString("\n\n")
	b.WriteString(describeSide("Local ", m.conflict.Local))
	b.WriteString(describeSide("Remote", m.conflict.Remote))
	b.WriteString("\n")

	for i, choice := range conflictChoices {
		line := "  " + choiceLabel(choice)
		if i == m.cursor {
			line = selectedStyle.Render("> " + choiceLabel(choice))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	b.WriteString("\n")
	return b.String()
}

func choiceLabel(r sync.Resolution) string {
	switch r {
	case sync.ResolveKeepLocal:
		return "Keep local, overwrite remote"
	case sync.ResolveKeepRemote:
		return "Keep remote, overwrite local"
	default:
		return "Skip for now"
	}
}

func describeSide(label string, e entity.Entity) string {
	when := "unknown"
	if t := e.ModifiedTime(); !t.IsZero() {
		when = humanize.Time(t)
	}
	return fmt.Sprintf("%s  %s  %s  %s\n",
		gray.Render(label), green.Render(e.Path()), humanize.Bytes(uint64(e.Size())), gray.Render("modified "+when))
}

// promptConflict asks on the terminal how to settle c.
func promptConflict(ctx context.Context, c *sync.Conflict) (sync.Resolution, error) {
	model, err := tea.NewProgram(newConflictModel(c), tea.WithContext(ctx)).Run()
	if err != nil {
		return sync.ResolveSkip, fmt.Errorf("conflict prompt: %w", err)
	}
	if m, ok := model.(conflictModel); ok {
		return m.choice, nil
	}
	return sync.ResolveSkip, nil
}
