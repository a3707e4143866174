package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	titleStyle        = lipgloss.NewStyle().MarginLeft(2).Bold(true)
	itemStyle         = lipgloss.NewStyle().PaddingLeft(4)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("170"))
	helpStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1).MarginLeft(2)
)

// allWorkloads is the choice that selects every entry
const allWorkloads = "!ALL!"

var workloadDescriptions = map[string]string{
	"hello":        "GET the gateway liveness endpoint",
	"users":        "register and log in a fresh patient",
	"availability": "create weekly slots for one doctor",
	"appointments": "book distinct half hours with one doctor",
}

type item struct {
	value       string
	description string
}

func (i item) FilterValue() string {
	return i.value
}

func (i item) Title() string {
	if i.description == "" {
		return i.value
	}
	return fmt.Sprintf("%-13s %s", i.value, i.description)
}

func (i item) Description() string { return "" }

type selectorModel struct {
	list     list.Model
	choice   string
	quitting bool
}

func (m selectorModel) Init() tea.Cmd {
	return nil
}

func (m selectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			m.choice = ""
			return m, tea.Quit

		case "enter":
			if i, ok := m.list.SelectedItem().(item); ok {
				m.choice = i.value
			}
			m.quitting = true
			return m, tea.Quit

		case "a", "A":
			m.choice = allWorkloads
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m selectorModel) View() string {
	if m.quitting {
		return ""
	}

	help := helpStyle.Render("↑/↓: navigate • enter: select • a: run all • q/ctrl+c: cancel")
	return fmt.Sprintf("%s\n\n%s", m.list.View(), help)
}

// IsInteractive reports whether stdin and stdout are both terminals
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

// SelectWorkloads asks the operator which stress workload to run
func SelectWorkloads(names []string) ([]string, error) {
	items := make([]list.Item, 0, len(names))
	for _, name := range names {
		items = append(items, item{value: name, description: workloadDescriptions[name]})
	}

	const defaultWidth = 80
	const listHeight = 12

	l := list.New(items, itemDelegate{}, defaultWidth, listHeight)
	l.Title = "Select a stress workload"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	p := tea.NewProgram(selectorModel{list: l}, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("error running selector: %w", err)
	}

	result := finalModel.(selectorModel)
	switch result.choice {
	case "":
		return nil, fmt.Errorf("selection cancelled")
	case allWorkloads:
		return names, nil
	default:
		return []string{result.choice}, nil
	}
}

type itemDelegate struct{}

func (d itemDelegate) Height() int                             { return 1 }
func (d itemDelegate) Spacing() int                            { return 0 }
func (d itemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(item)
	if !ok {
		return
	}

	str := fmt.Sprintf("%d. %s", index+1, i.Title())

	fn := itemStyle.Render
	if index == m.Index() {
		fn = func(s ...string) string {
			return selectedItemStyle.Render("> " + strings.Join(s, " "))
		}
	}

	fmt.Fprint(w, fn(str))
}
