package applets

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/project"
)

// SerialSlot persists one input slot.
type SerialSlot interface {
	Slot() *graph.Slot
	// Encode returns the msgpack encoding of the slot value, or ok=false
	// when the slot holds nothing to store.
	Encode() (data []byte, ok bool, err error)
	Decode(data []byte) error
}

// Value persists an input slot holding a T.
func Value[T any](s *graph.Slot) SerialSlot { return valueSlot[T]{s: s} }

type valueSlot[T any] struct{ s *graph.Slot }

func (v valueSlot[T]) Slot() *graph.Slot { return v.s }

func (v valueSlot[T]) Encode() ([]byte, bool, error) {
	if v.s.Connected() {
		return nil, false, nil
	}
	val, ok := graph.ValueAs[T](v.s)
	if !ok {
		return nil, false, nil
	}
	data, err := msgpack.Marshal(val)
	return data, err == nil, err
}

func (v valueSlot[T]) Decode(data []byte) error {
	var val T
	if err := msgpack.Unmarshal(data, &val); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, v.s.FullName(), err)
	}
	return v.s.SetValue(val)
}

// SlotSerializer writes the listed slots of an applet into a project and
// restores them from one.
type SlotSerializer struct {
	applet string
	slots  []SerialSlot
	log    zerolog.Logger
}

// NewSlotSerializer persists slots under the applet name.
func NewSlotSerializer(applet string, log zerolog.Logger, slots ...SerialSlot) *SlotSerializer {
	return &SlotSerializer{applet: applet, slots: slots, log: log}
}

// Applet is the project key of the serializer.
func (s *SlotSerializer) Applet() string { return s.applet }

// Serialize stores every slot with a value.
func (s *SlotSerializer) Serialize(p *project.Project) error {
	for _, ss := range s.slots {
		data, ok, err := ss.Encode()
		if err != nil {
			return fmt.Errorf("%s.%s: %w", s.applet, ss.Slot().Name(), err)
		}
		if !ok {
			continue
		}
		p.SetSlot(s.applet, ss.Slot().Name(), data)
	}
	return nil
}

// Deserialize restores every slot stored in p. Slots absent from p keep
// their value.
func (s *SlotSerializer) Deserialize(p *project.Project) error {
	for _, ss := range s.slots {
		data, ok := p.Slot(s.applet, ss.Slot().Name())
		if !ok {
			continue
		}
		if err := ss.Decode(data); err != nil {
			return err
		}
		s.log.Debug().Str("slot", ss.Slot().FullName()).Int("bytes", len(data)).Msg("slot restored")
	}
	return nil
}

// Slots returns the names of the persisted slots.
func (s *SlotSerializer) Slots() []string {
	out := make([]string, len(s.slots))
	for i, ss := range s.slots {
		out[i] = ss.Slot().Name()
	}
	return out
}
