package midi

// MIDI message types
const (
	NoteOn  uint8 = 0x90
	NoteOff uint8 = 0x80
	CC      uint8 = 0xB0
)

// Channel mode controllers sent on panic
const (
	CCAllSoundOff uint8 = 120
	CCAllNotesOff uint8 = 123
)

// Default macro controllers
const (
	CCMacroA uint8 = 20
	CCMacroB uint8 = 21
)

// Port is an output device as seen by the sink. ID is stable for as long as
// the device stays connected.
type Port struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProtocolChannel maps a 1..16 channel to the 0-based wire channel,
// clamping anything outside that range.
func ProtocolChannel(ch int) uint8 {
	if ch < 1 {
		ch = 1
	}
	if ch > 16 {
		ch = 16
	}
	return uint8(ch - 1)
}
