package viewmodel

import (
	"sync"

	"github.com/FynnBe/ilastik/internal/core/channel"
	"github.com/FynnBe/ilastik/internal/core/graph"
)

// LayerKind is how a layer would be rendered.
type LayerKind string

const (
	Grayscale  LayerKind = "grayscale"
	ColorTable LayerKind = "colortable"
	Alpha      LayerKind = "alpha"
)

// Layer is a display projection of a slot.
type Layer struct {
	Name   string
	Kind   LayerKind
	Source *graph.Slot

	mu          sync.Mutex
	visible     bool
	opacity     float64
	channel     int
	numChannels int

	channelChanged *channel.Broadcaster[int]
}

// NewLayer creates a visible, opaque layer on channel 0.
func NewLayer(name string, kind LayerKind, source *graph.Slot) *Layer {
	l := &Layer{
		Name:           name,
		Kind:           kind,
		Source:         source,
		visible:        true,
		opacity:        1,
		numChannels:    1,
		channelChanged: channel.NewBroadcaster[int]("layer_channel"),
	}
	if source != nil && source.Ready() {
		if c := source.Meta().AxisLen('c'); c > 0 {
			l.numChannels = c
		}
	}
	return l
}

func (l *Layer) SetVisible(v bool) {
	l.mu.Lock()
	l.visible = v
	l.mu.Unlock()
}

func (l *Layer) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

// SetOpacity clamps o into [0, 1].
func (l *Layer) SetOpacity(o float64) {
	l.mu.Lock()
	l.opacity = min(max(o, 0), 1)
	l.mu.Unlock()
}

func (l *Layer) Opacity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opacity
}

// SetChannel selects the displayed channel, clamped to the channels of the
// source, and notifies subscribers on change.
func (l *Layer) SetChannel(c int) bool {
	l.mu.Lock()
	c = min(max(c, 0), l.numChannels-1)
	if c == l.channel {
		l.mu.Unlock()
		return false
	}
	l.channel = c
	l.mu.Unlock()
	l.channelChanged.Publish(c)
	return true
}

func (l *Layer) Channel() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.channel
}

func (l *Layer) NumChannels() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.numChannels
}

func (l *Layer) OnChannelChanged(fn func(int)) channel.Subscription {
	return l.channelChanged.Subscribe(fn)
}

func (l *Layer) Unsubscribe(sub channel.Subscription) bool { return l.channelChanged.Unsubscribe(sub) }
