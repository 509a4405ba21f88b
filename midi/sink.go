package midi

// Sink is where channel messages go. Output ids may be empty, meaning the
// first available output; channels are 1..16. Calls never fail: transport
// problems are logged and dropped so playback is never interrupted.
type Sink interface {
	Outputs() []Port
	NoteOn(output string, channel int, pitch, velocity uint8)
	NoteOff(output string, channel int, pitch uint8)
	ControlChange(output string, channel int, controller, value uint8)
	AllNotesOff(output string, channel int)
}

// Multi fans every call out to each sink in order. Outputs come from the
// first sink.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Outputs() []Port {
	if len(m) == 0 {
		return nil
	}
	return m[0].Outputs()
}

func (m multiSink) NoteOn(output string, channel int, pitch, velocity uint8) {
	for _, s := range m {
		s.NoteOn(output, channel, pitch, velocity)
	}
}

func (m multiSink) NoteOff(output string, channel int, pitch uint8) {
	for _, s := range m {
		s.NoteOff(output, channel, pitch)
	}
}

func (m multiSink) ControlChange(output string, channel int, controller, value uint8) {
	for _, s := range m {
		s.ControlChange(output, channel, controller, value)
	}
}

func (m multiSink) AllNotesOff(output string, channel int) {
	for _, s := range m {
		s.AllNotesOff(output, channel)
	}
}
