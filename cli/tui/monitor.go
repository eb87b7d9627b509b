package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/edgeorder/labelreader/types"
)

// DefaultHistory is how many events the monitor keeps on screen.
const DefaultHistory = 50

// StatusMsg carries one status event received from the hub.
type StatusMsg types.StatusEvent

// OrderMsg carries one order notification received from the hub.
type OrderMsg types.OrderNotification

// ConnMsg reports a subscription state change.
type ConnMsg struct {
	Topic     string
	Connected bool
}

// Event is one row of the monitor.
type Event struct {
	At            time.Time
	Topic         string
	CorrelationID string
	Code          types.ErrorCode
	Detail        string
}

// Decode parses a hub message for topic into a monitor message.
func Decode(topic string, data []byte) (tea.Msg, error) {
	switch topic {
	case "status":
		var ev types.StatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		return StatusMsg(ev), nil
	case "order_info":
		var order types.OrderNotification
		if err := json.Unmarshal(data, &order); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		return OrderMsg(order), nil
	default:
		return nil, fmt.Errorf("unsupported topic %q", topic)
	}
}

// MonitorModel is a Bubble Tea model showing live device activity.
type MonitorModel struct {
	device  string
	history int
	now     func() time.Time

	events   []Event
	orders   int
	statuses int
	byCode   map[types.ErrorCode]int
	conn     map[string]bool

	table    table.Model
	width    int
	height   int
	quitting bool
}

// NewMonitorModel creates a monitor for device.
func NewMonitorModel(device string, history int) MonitorModel {
	if history <= 0 {
		history = DefaultHistory
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 10},
			{Title: "Topic", Width: 10},
			{Title: "Correlation", Width: 36},
			{Title: "Code", Width: 22},
			{Title: "Detail", Width: 40},
		}),
		table.WithHeight(12),
	)
	return MonitorModel{
		device:  device,
		history: history,
		now:     time.Now,
		byCode:  make(map[types.ErrorCode]int),
		conn:    make(map[string]bool),
		table:   t,
	}
}

// Init implements tea.Model.
func (m MonitorModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if msg.Height > 14 {
			m.table.SetHeight(msg.Height - 14)
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case ConnMsg:
		m.conn[msg.Topic] = msg.Connected
		return m, nil

	case StatusMsg:
		m.statuses++
		m.byCode[msg.ErrorSubType]++
		m.push(Event{
			At:            m.timestamp(msg.Timestamp),
			Topic:         "status",
			CorrelationID: msg.CorrelationID,
			Code:          msg.ErrorSubType,
			Detail:        string(msg.ErrorCode),
		})
		return m, nil

	case OrderMsg:
		m.orders++
		m.push(Event{
			At:            m.now(),
			Topic:         "order",
			CorrelationID: msg.CorrelationID,
			Detail:        orderSummary(msg.TransformedFields),
		})
		return m, nil
	}

	return m, nil
}

func (m MonitorModel) timestamp(ms int64) time.Time {
	if ms <= 0 {
		return m.now()
	}
	return time.UnixMilli(ms)
}

// push prepends ev and trims the history.
func (m *MonitorModel) push(ev Event) {
	m.events = append([]Event{ev}, m.events...)
	if len(m.events) > m.history {
		m.events = m.events[:m.history]
	}
	rows := make([]table.Row, 0, len(m.events))
	for _, e := range m.events {
		rows = append(rows, table.Row{
			e.At.Format("15:04:05"),
			e.Topic,
			e.CorrelationID,
			string(e.Code),
			e.Detail,
		})
	}
	m.table.SetRows(rows)
}

func orderSummary(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fields[name])
	}
	return strings.Join(parts, " / ")
}

// Events returns the retained events, newest first.
func (m MonitorModel) Events() []Event {
	return m.events
}

// View implements tea.Model.
func (m MonitorModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Label Reader Monitor: " + m.device))
	b.WriteString("\n")
	b.WriteString(m.renderConnections())
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Orders", m.orders, healthy),
		m.renderStatBox("Status Events", m.statuses, outline),
		m.renderStatBox("Low Boxes", m.byCode[types.ErrorCodeLowBB], attend),
		m.renderStatBox("System Errors", m.systemErrors(), failing),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	if len(m.events) == 0 {
		b.WriteString(LabelStyle.Render("Waiting for events..."))
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
		latest := m.events[0]
		b.WriteString(fmt.Sprintf("%s %s",
			LabelStyle.Render("Latest:"),
			CodeStyle(latest.Code).Render(latest.Topic+" "+latest.CorrelationID)))
	}

	help := HelpStyle.Render("↑/↓ scroll • q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func (m MonitorModel) systemErrors() int {
	n := 0
	for _, code := range []types.ErrorCode{types.ErrorCodeOCR, types.ErrorCodeTTS, types.ErrorCodeEdgeModel, types.ErrorCodeLabelProcessing} {
		n += m.byCode[code]
	}
	return n
}

func (m MonitorModel) renderConnections() string {
	topics := make([]string, 0, len(m.conn))
	for topic := range m.conn {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	parts := make([]string, 0, len(topics))
	for _, topic := range topics {
		state := "down"
		if m.conn[topic] {
			state = "up"
		}
		parts = append(parts, LabelStyle.Render(topic+":")+ConnStyle(m.conn[topic]).Render(state))
	}
	return strings.Join(parts, "  ")
}

func (m MonitorModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
