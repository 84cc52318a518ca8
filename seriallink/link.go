package seriallink

import (
	"errors"
	"io"
	"time"

	"pdm-service/pdm"
	"pdm-service/store"
)

// Committer schedules and forces configuration saves; *store.Coalescer satisfies it
type Committer interface {
	Mark(r store.Region, now time.Time)
	Flush() error
}

// Verifier checks the stored regions against the live state; *store.Store satisfies it
type Verifier interface {
	Verify(st *pdm.State) (bool, error)
}

// Config bundles the collaborators of a host link
type Config struct {
	State  *pdm.State
	Inputs *pdm.InputHandler
	Saver  Committer
	Store  Verifier
	Out    io.Writer
	Logger pdm.Logger

	Version   string
	BuildDate string
}

type linkMode uint8

const (
	modeCommand linkMode = iota
	modeFrame
	modeOverride
)

// Link runs the host configuration protocol over a byte stream. Feed and
// Poll must be called from the goroutine that owns the state.
type Link struct {
	cfg Config

	mode        linkMode
	parser      Parser
	args        []byte
	argsStarted time.Time

	connected bool
	lastRx    time.Time
}

func NewLink(cfg Config) *Link {
	return &Link{cfg: cfg}
}

// Connected reports whether a host session is open
func (l *Link) Connected() bool {
	return l.connected
}

// Feed processes bytes received from the host
func (l *Link) Feed(data []byte, now time.Time) {
	if len(data) == 0 {
		return
	}
	l.lastRx = now
	for _, b := range data {
		l.feedByte(b, now)
	}
}

// Poll expires stale partial frames and drops the session after SessionTimeout of silence
func (l *Link) Poll(now time.Time) {
	l.expire(now)

	if l.connected && now.Sub(l.lastRx) > SessionTimeout {
		l.connected = false
		l.mode = modeCommand
		l.parser.Reset()
		l.cfg.Inputs.ClearOverrides()
		l.cfg.Logger.Warn("Host link silent for %s, session closed and overrides cleared", SessionTimeout)
	}
}

func (l *Link) expire(now time.Time) {
	switch l.mode {
	case modeFrame:
		if l.parser.Expired(now) {
			l.cfg.Logger.Warn("Discarding partial config frame: %v", ErrTimeout)
			l.parser.Reset()
			l.mode = modeCommand
			l.reply(Nak)
		}
	case modeOverride:
		if now.Sub(l.argsStarted) > FrameTimeout {
			l.cfg.Logger.Warn("Discarding partial override command: %v", ErrTimeout)
			l.mode = modeCommand
		}
	}
}

func (l *Link) feedByte(b byte, now time.Time) {
	l.expire(now)

	switch l.mode {
	case modeFrame:
		payload, done, err := l.parser.Feed(b, now)
		if err != nil {
			l.rejectFrame(err)
			return
		}
		if done {
			l.mode = modeCommand
			l.applyConfig(payload, now)
		}

	case modeOverride:
		l.args = append(l.args, b)
		if len(l.args) == 2 {
			l.mode = modeCommand
			l.override(int(l.args[0]), l.args[1] != 0)
		}

	default:
		l.command(b, now)
	}
}

func (l *Link) command(b byte, now time.Time) {
	if b == CmdBegin {
		if !l.connected {
			l.cfg.Logger.Info("Host link session opened")
		}
		l.connected = true
		l.reply(CmdConfirm)
		return
	}

	if !l.connected {
		l.cfg.Logger.Debug("Ignoring command 0x%02X outside a session", b)
		return
	}

	switch b {
	case CmdConfirm:
		// Host acknowledgement of our last reply
	case CmdRequest:
		l.send(EncodeFrame(Dump(l.cfg.State)))
	case CmdNewConfig:
		l.parser.Reset()
		l.mode = modeFrame
	case CmdSaveChanges:
		l.save(now)
	case CmdFWVersion:
		l.send(EncodeFrame([]byte(l.cfg.Version)))
	case CmdBuildDate:
		l.send(EncodeFrame([]byte(l.cfg.BuildDate)))
	case CmdOverride:
		l.args = l.args[:0]
		l.argsStarted = now
		l.mode = modeOverride
	default:
		l.cfg.Logger.Debug("Unknown host command 0x%02X", b)
	}
}

func (l *Link) rejectFrame(err error) {
	l.mode = modeCommand
	l.cfg.Logger.Warn("Rejected config frame: %v", err)
	if errors.Is(err, ErrChecksum) {
		l.cfg.State.Runtime.SetFlag(pdm.SysCommsChecksum, true)
	}
	l.reply(Nak)
}

func (l *Link) applyConfig(payload []byte, now time.Time) {
	l.cfg.State.Runtime.SetFlag(pdm.SysCommsChecksum, false)

	records, err := DecodeRecords(payload)
	if err != nil {
		l.rejectFrame(err)
		return
	}

	var dirty [store.RegionCount]bool
	var failed int
	for _, r := range records {
		if err := r.Apply(l.cfg.State); err != nil {
			failed++
			l.cfg.Logger.Warn("Config record %s[%d] param %d rejected: %v", r.Region, r.Index, r.Param, err)
			continue
		}
		dirty[r.Region] = true
	}

	for r, d := range dirty {
		if d {
			l.cfg.Saver.Mark(store.Region(r), now)
		}
	}

	l.cfg.Logger.Info("Host config applied: %d records, %d rejected", len(records), failed)
	if failed > 0 {
		l.reply(Nak)
		return
	}
	l.reply(Ack)
}

func (l *Link) save(now time.Time) {
	for r := store.Region(0); r < store.RegionCount; r++ {
		l.cfg.Saver.Mark(r, now)
	}
	if err := l.cfg.Saver.Flush(); err != nil {
		l.cfg.Logger.Error("Host save failed: %v", err)
		l.reply(Nak)
		return
	}

	ok, err := l.cfg.Store.Verify(l.cfg.State)
	if err != nil || !ok {
		l.cfg.Logger.Error("Host save verification failed (ok=%v): %v", ok, err)
		l.reply(Nak)
		return
	}

	l.cfg.State.Runtime.SetFlag(pdm.SysCRCFail, false)
	l.cfg.Logger.Info("Host save committed and verified")
	l.reply(Ack)
}

func (l *Link) override(ch int, on bool) {
	if err := l.cfg.Inputs.SetOverride(ch, on); err != nil {
		l.cfg.Logger.Warn("Override for channel %d rejected: %v", ch, err)
		l.reply(Nak)
		return
	}
	l.cfg.Logger.Info("Channel %d override %v", ch+1, on)
	l.reply(Ack)
}

func (l *Link) reply(b byte) {
	l.send([]byte{b})
}

func (l *Link) send(data []byte) {
	if _, err := l.cfg.Out.Write(data); err != nil {
		l.cfg.Logger.Error("Failed to write to host link: %v", err)
	}
}
