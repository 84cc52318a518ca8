package pdm

import (
	"sync"
	"time"
)

// SimHAL is an in-memory HAL. Tests drive it directly and the host bridge
// keeps its io snapshot in one.
type SimHAL struct {
	mu sync.Mutex

	outputs  map[uint8]bool
	writes   map[uint8]int
	pulls    map[uint8][2]bool
	digital  map[uint8]bool
	analogue [AnalogueInputCount]float32
	sense    map[uint8]uint16
	supply   float32
	temp     float32
	ignition bool
}

// NewSimHAL creates a simulated board with ignition on and a healthy 13.8V supply
func NewSimHAL() *SimHAL {
	return &SimHAL{
		outputs:  make(map[uint8]bool),
		writes:   make(map[uint8]int),
		pulls:    make(map[uint8][2]bool),
		digital:  make(map[uint8]bool),
		sense:    make(map[uint8]uint16),
		supply:   13.8,
		temp:     25,
		ignition: true,
	}
}

func (s *SimHAL) WriteOutput(pin uint8, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[pin] = high
	s.writes[pin]++
}

func (s *SimHAL) ConfigureInput(pin uint8, pullUp, pullDown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls[pin] = [2]bool{pullUp, pullDown}
}

func (s *SimHAL) ReadDigital(pin uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level, ok := s.digital[pin]; ok {
		return level
	}
	// Floating inputs settle to their pull
	p := s.pulls[pin]
	return p[0]
}

func (s *SimHAL) ReadAnalogueVoltage(index int) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= AnalogueInputCount {
		return 0
	}
	return s.analogue[index]
}

func (s *SimHAL) ReadCurrentSense(pin uint8) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sense[pin]
}

func (s *SimHAL) ReadSupplyVoltage() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supply
}

func (s *SimHAL) ReadTemperature() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temp
}

func (s *SimHAL) Ignition() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignition
}

// SetDigital sets the level seen on a digital input
func (s *SimHAL) SetDigital(pin uint8, level bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digital[pin] = level
}

// SetAnalogue sets the voltage seen on an analogue input
func (s *SimHAL) SetAnalogue(index int, v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < AnalogueInputCount {
		s.analogue[index] = v
	}
}

// SetCurrentSense sets the raw ADC value returned for a sense pin
func (s *SimHAL) SetCurrentSense(pin uint8, raw uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sense[pin] = raw
}

func (s *SimHAL) SetSupplyVoltage(v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply = v
}

func (s *SimHAL) SetTemperature(c float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = c
}

func (s *SimHAL) SetIgnition(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignition = on
}

// Output returns the last level written to pin
func (s *SimHAL) Output(pin uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[pin]
}

// Writes returns how many times pin has been written
func (s *SimHAL) Writes(pin uint8) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[pin]
}

// Pulls returns the pull configuration applied to pin
func (s *SimHAL) Pulls(pin uint8) (pullUp, pullDown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pulls[pin]
	return p[0], p[1]
}

// SimPlatform is a Platform that never blocks
type SimPlatform struct {
	Halts         int
	ClockRestores int
	MotionArmed   bool
	LastHalt      time.Duration
}

func (p *SimPlatform) Halt(timeout time.Duration) {
	p.Halts++
	p.LastHalt = timeout
}

func (p *SimPlatform) RestoreClock() {
	p.ClockRestores++
}

func (p *SimPlatform) ArmMotionInterrupt(enabled bool) {
	p.MotionArmed = enabled
}
