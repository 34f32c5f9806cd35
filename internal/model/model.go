// Package model holds the in-memory representation of what the scanner has
// discovered: transponders (tuned multiplexes) and the services (virtual
// channels) carried on them.
//
// Types here mirror the C scan.c structures (struct transponder, struct
// service) but trade intrusive linked lists for owned slices with stable
// indices, per the notes on DESIGN NOTES in the specification.
package model

import "fmt"

// DeliverySystem identifies the physical layer a transponder uses.
type DeliverySystem int

const (
	DeliveryUnknown DeliverySystem = iota
	DeliveryATSC                   // VSB-8 terrestrial or cable QAM
	DeliveryDVBT
	DeliveryDVBC
	DeliveryDVBS
)

func (d DeliverySystem) String() string {
	switch d {
	case DeliveryATSC:
		return "atsc"
	case DeliveryDVBT:
		return "dvb-t"
	case DeliveryDVBC:
		return "dvb-c"
	case DeliveryDVBS:
		return "dvb-s"
	default:
		return "unknown"
	}
}

// RunningState is the SDT/VCT running_status of a service.
type RunningState int

const (
	NotRunning RunningState = iota
	StartsSoon
	Pausing
	Running
)

func (r RunningState) String() string {
	switch r {
	case StartsSoon:
		return "starts_soon"
	case Pausing:
		return "pausing"
	case Running:
		return "running"
	default:
		return "not_running"
	}
}

// FreqToleranceHz is the deduplication tolerance for matching transponders by
// approximate frequency (spec.md §3: "match tolerance ±2 MHz").
const FreqToleranceHz = 2_000_000

// AudioTrack is one elementary audio stream of a service.
type AudioTrack struct {
	PID  uint16
	Lang string // 3-letter ISO-639 code, may be empty
	AC3  bool
}

// SignalReport holds optional frontend telemetry gathered after lock, per
// spec.md §6's optional read_signal_strength/read_snr/read_ber/
// read_uncorrected_blocks calls.
type SignalReport struct {
	Strength          uint16
	SNR               uint16
	BER               uint32
	UncorrectedBlocks uint32
	Valid             bool
}

// Service is one virtual channel within a Transponder.
type Service struct {
	ServiceID uint16

	PMTPID  uint16
	PCRPID  uint16
	VideoPID uint16

	AudioTracks []AudioTrack // up to 32, enforced by AddAudioTrack

	TeletextPID   uint16
	HasTeletext   bool
	SubtitlingPID uint16
	HasSubtitling bool
	AC3PID        uint16
	HasAC3        bool

	CASystemIDs []uint16 // up to 16, enforced by AddCASystemID

	ProviderName string
	ServiceName  string
	ServiceType  byte
	Running      RunningState
	Scrambled    bool

	// ATSC: major/minor packed as (major<<10)|minor.
	ChannelNum uint32
	Major      uint16
	Minor      uint16

	Hidden bool
}

const (
	maxAudioTracks  = 32
	maxCASystemIDs  = 16
)

// AddAudioTrack appends an audio track, silently truncating past
// maxAudioTracks per spec.md §7 "semantic anomaly... truncate or skip".
func (s *Service) AddAudioTrack(t AudioTrack) bool {
	if len(s.AudioTracks) >= maxAudioTracks {
		return false
	}
	s.AudioTracks = append(s.AudioTracks, t)
	return true
}

// AddCASystemID appends a CA system id, truncating past maxCASystemIDs.
func (s *Service) AddCASystemID(id uint16) bool {
	if len(s.CASystemIDs) >= maxCASystemIDs {
		return false
	}
	s.CASystemIDs = append(s.CASystemIDs, id)
	return true
}

// SetChannelNum packs major/minor per spec.md: channel_num = (major<<10)|minor.
func (s *Service) SetChannelNum(major, minor uint16) {
	s.Major = major
	s.Minor = minor
	s.ChannelNum = uint32(major)<<10 | uint32(minor)
}

// Transponder is a tuned multiplex.
type Transponder struct {
	FrequencyHz uint64
	Delivery    DeliverySystem

	NetworkID         uint16
	OriginalNetworkID uint16
	TransportStreamID uint16

	// Modulation parameters are opaque to the core; the tuner abstraction
	// owns their meaning. Stored as a free-form map so table decoders (e.g.
	// NIT terrestrial/cable/satellite descriptors) can stash BCD-decoded
	// fields without the core needing to understand every delivery system.
	ModulationParams map[string]any

	OtherFrequenciesHz []uint64 // alternate-frequency list (NIT tag 0x62)

	ScanDone          bool
	LastTuningFailed  bool
	WrongFrequency    bool
	OtherFrequencyFlag bool

	Services []*Service

	Signal SignalReport
}

// FindService does a linear scan by service_id, per spec.md §4.E.
func (t *Transponder) FindService(sid uint16) *Service {
	for _, s := range t.Services {
		if s.ServiceID == sid {
			return s
		}
	}
	return nil
}

// AllocService appends a new Service with the given id and returns it.
func (t *Transponder) AllocService(sid uint16) *Service {
	s := &Service{ServiceID: sid}
	t.Services = append(t.Services, s)
	return s
}

// FindOrAllocService returns the existing service with sid, allocating one if
// absent, matching spec.md's "allocated on first mention" lifecycle rule.
func (t *Transponder) FindOrAllocService(sid uint16) *Service {
	if s := t.FindService(sid); s != nil {
		return s
	}
	return t.AllocService(sid)
}

// FrequencyMatches reports whether hz is within FreqToleranceHz of t's
// frequency, the dedup rule from spec.md §3/§4.E.
func (t *Transponder) FrequencyMatches(hz uint64) bool {
	d := int64(t.FrequencyHz) - int64(hz)
	if d < 0 {
		d = -d
	}
	return d <= FreqToleranceHz
}

func (t *Transponder) String() string {
	return fmt.Sprintf("tp(%.3fMHz %s tsid=%d services=%d)", float64(t.FrequencyHz)/1e6, t.Delivery, t.TransportStreamID, len(t.Services))
}
