package relay

import (
	"fmt"
	"strconv"

	"github.com/hypebeast/go-osc/osc"
)

// encode builds a single-argument OSC message. A nil value is sent as the
// OSC Nil argument, not dropped.
func encode(topic string, value any) ([]byte, error) {
	return osc.NewMessage(topic, value).MarshalBinary()
}

// decode parses one datagram into its messages. Bundles are flattened in
// order; their time tags are ignored.
func decode(datagram []byte) ([]*osc.Message, error) {
	pkt, err := osc.ParsePacket(string(datagram))
	if err != nil {
		return nil, err
	}
	var out []*osc.Message
	var walk func(p osc.Packet)
	walk = func(p osc.Packet) {
		switch v := p.(type) {
		case *osc.Message:
			out = append(out, v)
		case *osc.Bundle:
			out = append(out, v.Messages...)
			for _, b := range v.Bundles {
				walk(b)
			}
		}
	}
	walk(pkt)
	return out, nil
}

// ParseValue converts operator input into an OSC argument: a number becomes
// a float32, anything else stays a string.
func ParseValue(s string) any {
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return float32(f)
	}
	return s
}

// NormalizeValue maps a loosely typed value (for example from JSON) onto a
// type the OSC encoder supports.
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int32, int64, float32, string, []byte:
		return x, nil
	case float64:
		return float32(x), nil
	case int:
		return int32(x), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
