package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/edgeorder/labelreader/channel"
	"github.com/edgeorder/labelreader/hub"
	"github.com/edgeorder/labelreader/log"
)

// MonitorConfig configures RunMonitor.
type MonitorConfig struct {
	// HubURL is the hub base URL, e.g. ws://127.0.0.1:7001.
	HubURL   string
	DeviceID string
	History  int
	// ReconnectInterval is passed to each subscription channel.
	ReconnectInterval time.Duration
}

// MonitoredTopics are the hub topics the monitor subscribes to.
var MonitoredTopics = []hub.Topic{hub.TopicStatus, hub.TopicOrderInfo}

// sender is the part of *tea.Program subscriptions deliver to.
type sender interface {
	Send(msg tea.Msg)
}

// Subscribe opens one external channel per monitored topic and forwards
// decoded messages to p. Undecodable messages are logged and dropped.
func Subscribe(cfg MonitorConfig, p sender, logger *log.Logger) []*channel.Duplex {
	if logger == nil {
		logger = log.Nop()
	}
	base := strings.TrimSuffix(cfg.HubURL, "/")

	subs := make([]*channel.Duplex, 0, len(MonitoredTopics))
	for _, topic := range MonitoredTopics {
		name := string(topic)
		d := channel.New(channel.Config{
			URL:               base + hub.Path(topic, hub.RoleExternal),
			ReconnectInterval: cfg.ReconnectInterval,
		}, logger)
		d.OnMessage(func(data []byte) {
			msg, err := Decode(name, data)
			if err != nil {
				logger.Warn("monitor dropped message", map[string]any{"topic": name, "error": err.Error()})
				return
			}
			p.Send(msg)
		})
		connected := d.Open()
		p.Send(ConnMsg{Topic: name, Connected: connected})
		d.StartDispatch()
		subs = append(subs, d)
	}
	return subs
}

// RunMonitor runs the monitor until the user quits or ctx is cancelled.
func RunMonitor(ctx context.Context, cfg MonitorConfig, logger *log.Logger) error {
	if cfg.HubURL == "" {
		return errors.New("monitor requires a hub url")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewMonitorModel(cfg.DeviceID, cfg.History)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	// Program.Send blocks until the event loop runs, so subscribe from a
	// goroutine. Sends after Run returns are discarded.
	subscribed := make(chan []*channel.Duplex, 1)
	go func() {
		subs := Subscribe(cfg, p, logger)
		subscribed <- subs
		pollConnections(ctx, subs, p)
	}()

	_, err := p.Run()
	for _, d := range <-subscribed {
		_ = d.Close()
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// pollConnections reports channel state changes once a second.
func pollConnections(ctx context.Context, subs []*channel.Duplex, p sender) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := make([]bool, len(subs))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, d := range subs {
				up := d.State() == channel.StateConnected
				if up != last[i] {
					last[i] = up
					p.Send(ConnMsg{Topic: string(MonitoredTopics[i]), Connected: up})
				}
			}
		}
	}
}
