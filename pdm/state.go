package pdm

// State is the owned context shared by all control components.
// It is only touched from the control loop goroutine.
type State struct {
	Channels [ChannelCount]Channel
	Analogue [AnalogueInputCount]AnalogueInput
	System   SystemParameters
	Runtime  SystemRuntime
	Storage  StorageParameters
}

// NewState returns a state populated with hard boot defaults
func NewState() *State {
	return &State{
		Channels: DefaultChannels(),
		Analogue: DefaultAnalogueInputs(),
		System:   DefaultSystemParameters(),
		Storage:  DefaultStorageParameters(),
	}
}

// ChannelConfigs copies out the persisted part of every channel
func (s *State) ChannelConfigs() [ChannelCount]ChannelConfig {
	var out [ChannelCount]ChannelConfig
	for i := range s.Channels {
		out[i] = s.Channels[i].ChannelConfig
	}
	return out
}

// SetChannelConfigs replaces the persisted part of every channel, keeping runtime state
func (s *State) SetChannelConfigs(cfg [ChannelCount]ChannelConfig) {
	for i := range s.Channels {
		s.Channels[i].ChannelConfig = cfg[i]
		s.Channels[i].ChannelConfig.Clamp()
	}
}

// ApplyChannelUpdate routes a tagged update to its channel
func (s *State) ApplyChannelUpdate(u ChannelUpdate) error {
	if u.Channel < 0 || u.Channel >= ChannelCount {
		return ErrUnknownChannel
	}
	return s.Channels[u.Channel].ChannelConfig.Apply(u)
}

// ApplyAnalogueUpdate routes a tagged update to its analogue input
func (s *State) ApplyAnalogueUpdate(u AnalogueUpdate) error {
	if u.Input < 0 || u.Input >= AnalogueInputCount {
		return ErrUnknownInput
	}
	return s.Analogue[u.Input].Apply(u)
}

// SetFlag sets or clears a system error bit
func (r *SystemRuntime) SetFlag(flag SystemFlags, on bool) {
	if on {
		r.ErrorFlags |= flag
	} else {
		r.ErrorFlags &^= flag
	}
}
