package nanoleaf

import (
	"fmt"
	"math/big"
	"strconv"
)

// Touch stream datagram layout, in bits, big-endian:
//
//	| 1 reserved | 16 panel id | 4 touch type | 4 strength | rest: secondary panel id |
const (
	telemetryReservedBits  = 1
	telemetryPanelBits     = 16
	telemetryTouchTypeBits = 4
	telemetryStrengthBits  = 4
	telemetryHeaderBits    = telemetryReservedBits + telemetryPanelBits + telemetryTouchTypeBits + telemetryStrengthBits

	// MinTelemetrySize is the smallest datagram accepted by the decoder.
	MinTelemetrySize = 6
)

// DefaultNoSecondaryPanel is the raw secondary panel id that means "no secondary panel"
// (2 XOR 16). It is unverified against device firmware; 0xFFFF is the more likely
// marker. Override through TelemetryDecoder.NoSecondaryPanel.
const DefaultNoSecondaryPanel uint64 = 2 ^ 16

// TouchType is the touch stream touch-type code.
type TouchType int

const (
	TouchTypeHover TouchType = 0
	TouchTypeDown  TouchType = 1
	TouchTypeHold  TouchType = 2
	TouchTypeUp    TouchType = 3
	TouchTypeSwipe TouchType = 4
)

// String returns the touch type name, or the numeric code for unknown types.
func (t TouchType) String() string {
	switch t {
	case TouchTypeHover:
		return "Hover"
	case TouchTypeDown:
		return "Down"
	case TouchTypeHold:
		return "Hold"
	case TouchTypeUp:
		return "Up"
	case TouchTypeSwipe:
		return "Swipe"
	default:
		return strconv.Itoa(int(t))
	}
}

// TouchStreamEvent is one decoded touch stream datagram.
type TouchStreamEvent struct {
	PanelID     int
	TouchTypeID TouchType
	Strength    int

	secondary   *big.Int
	noSecondary uint64
}

// TouchType returns the semantic touch type name.
func (e TouchStreamEvent) TouchType() string {
	return e.TouchTypeID.String()
}

// RawSecondaryPanelID returns the undecoded secondary panel id field.
// The field spans every bit after the header, so it may be wider than 64 bits.
func (e TouchStreamEvent) RawSecondaryPanelID() *big.Int {
	if e.secondary == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(e.secondary)
}

// HasSecondaryPanel reports whether the secondary field differs from the sentinel.
func (e TouchStreamEvent) HasSecondaryPanel() bool {
	return e.RawSecondaryPanelID().Cmp(new(big.Int).SetUint64(e.noSecondary)) != 0
}

// SecondaryPanelID returns the second panel of a gesture, if any.
// Ids that do not fit an int64 are only available through RawSecondaryPanelID.
func (e TouchStreamEvent) SecondaryPanelID() (int, bool) {
	if !e.HasSecondaryPanel() {
		return 0, false
	}
	raw := e.RawSecondaryPanelID()
	if !raw.IsInt64() {
		return 0, false
	}
	return int(raw.Int64()), true
}

// TelemetryDecoder decodes touch stream datagrams.
type TelemetryDecoder struct {
	// NoSecondaryPanel is the raw secondary id meaning "absent".
	NoSecondaryPanel uint64
}

// DefaultTelemetryDecoder uses DefaultNoSecondaryPanel.
var DefaultTelemetryDecoder = TelemetryDecoder{NoSecondaryPanel: DefaultNoSecondaryPanel}

// DecodeTouchStream decodes a datagram with DefaultTelemetryDecoder.
func DecodeTouchStream(data []byte) (TouchStreamEvent, error) {
	return DefaultTelemetryDecoder.Decode(data)
}

// Decode parses a single touch stream datagram.
func (d TelemetryDecoder) Decode(data []byte) (TouchStreamEvent, error) {
	if len(data) < MinTelemetrySize {
		return TouchStreamEvent{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedTelemetry, len(data), MinTelemetrySize)
	}
	secondaryBits := uint(len(data)*8 - telemetryHeaderBits)

	r := bitReader{data: data}
	r.skip(telemetryReservedBits)
	panel := r.read(telemetryPanelBits)
	touchType := r.read(telemetryTouchTypeBits)
	strength := r.read(telemetryStrengthBits)

	// Everything after the header, as one unsigned big-endian number
	mask := new(big.Int).Lsh(big.NewInt(1), secondaryBits)
	mask.Sub(mask, big.NewInt(1))
	secondary := new(big.Int).SetBytes(data)
	secondary.And(secondary, mask)

	return TouchStreamEvent{
		PanelID:     int(panel),
		TouchTypeID: TouchType(touchType),
		Strength:    int(strength),
		secondary:   secondary,
		noSecondary: d.NoSecondaryPanel,
	}, nil
}

// EncodeTouchStream packs an event into a datagram of the given size using the
// decoder layout. The reserved bit is left clear and secondary is right-aligned
// in the trailing field.
func EncodeTouchStream(panelID int, touchType TouchType, strength int, secondary uint64, size int) ([]byte, error) {
	if size < MinTelemetrySize {
		return nil, fmt.Errorf("%w: size %d below minimum %d", ErrMalformedTelemetry, size, MinTelemetrySize)
	}
	secondaryBits := size*8 - telemetryHeaderBits
	if panelID < 0 || panelID >= 1<<telemetryPanelBits {
		return nil, fmt.Errorf("panel id %d out of range", panelID)
	}
	if touchType < 0 || touchType >= 1<<telemetryTouchTypeBits {
		return nil, fmt.Errorf("touch type %d out of range", touchType)
	}
	if strength < 0 || strength >= 1<<telemetryStrengthBits {
		return nil, fmt.Errorf("strength %d out of range", strength)
	}
	if secondaryBits < 64 && secondary >= 1<<uint(secondaryBits) {
		return nil, fmt.Errorf("secondary panel id %d does not fit in %d bits", secondary, secondaryBits)
	}

	w := bitWriter{data: make([]byte, size)}
	w.skip(telemetryReservedBits)
	w.write(uint64(panelID), telemetryPanelBits)
	w.write(uint64(touchType), telemetryTouchTypeBits)
	w.write(uint64(strength), telemetryStrengthBits)
	w.write(secondary, secondaryBits)
	return w.data, nil
}

// bitReader reads big-endian bit fields from a byte slice.
type bitReader struct {
	data []byte
	pos  int
}

func (r *bitReader) skip(n int) {
	r.pos += n
}

func (r *bitReader) read(n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		bit := (r.data[r.pos/8] >> (7 - uint(r.pos%8))) & 1
		v = v<<1 | uint64(bit)
		r.pos++
	}
	return v
}

type bitWriter struct {
	data []byte
	pos  int
}

func (w *bitWriter) skip(n int) {
	w.pos += n
}

// write stores the low n bits of v; bits above 64 are written as zero.
func (w *bitWriter) write(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		if i < 64 && (v>>uint(i))&1 == 1 {
			w.data[w.pos/8] |= 1 << (7 - uint(w.pos%8))
		}
		w.pos++
	}
}
