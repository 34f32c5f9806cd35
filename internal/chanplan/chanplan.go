// Package chanplan implements the ATSC RF channel plan: the channel-number
// to center-frequency mapping used to seed the scan controller's initial
// pending-transponder list, and its documented inverse.
package chanplan

import "fmt"

// MinChannel and MaxChannel bound the ATSC terrestrial/cable channel range
// this module scans (spec.md §4.F: "RF channel 2..51").
const (
	MinChannel = 2
	MaxChannel = 51
)

// ChannelToMHz converts an ATSC RF channel number to its center frequency in
// MHz, per spec.md §6's piecewise table. Returns an error for channels
// outside [MinChannel, MaxChannel].
func ChannelToMHz(ch int) (float64, error) {
	switch {
	case ch >= 2 && ch <= 4:
		return 57 + float64(ch-2)*6, nil
	case ch >= 5 && ch <= 6:
		return 79 + float64(ch-5)*6, nil
	case ch >= 7 && ch <= 13:
		return 177 + float64(ch-7)*6, nil
	case ch >= 14 && ch <= 51:
		return 473 + float64(ch-14)*6, nil
	default:
		return 0, fmt.Errorf("chanplan: channel %d out of range [%d,%d]", ch, MinChannel, MaxChannel)
	}
}

// ChannelToHz is ChannelToMHz scaled to Hz, the unit model.Transponder uses.
func ChannelToHz(ch int) (uint64, error) {
	mhz, err := ChannelToMHz(ch)
	if err != nil {
		return 0, err
	}
	return uint64(mhz * 1e6), nil
}

// MHzToChannel is the range-wise inverse of ChannelToMHz. Returns an error if
// mhz does not fall on a channel center within the plan (within 0.01 MHz, to
// absorb floating point noise from ChannelToMHz's own output).
func MHzToChannel(mhz float64) (int, error) {
	const eps = 0.01
	for ch := MinChannel; ch <= MaxChannel; ch++ {
		center, _ := ChannelToMHz(ch)
		if diff := center - mhz; diff < eps && diff > -eps {
			return ch, nil
		}
	}
	return 0, fmt.Errorf("chanplan: %.3f MHz does not match any channel center", mhz)
}

// All returns every (channel, frequencyHz) pair in the plan, in ascending
// channel order — the seed list for spec.md §4.F's "Initial seeding".
func All() []struct {
	Channel int
	FreqHz  uint64
} {
	out := make([]struct {
		Channel int
		FreqHz  uint64
	}, 0, MaxChannel-MinChannel+1)
	for ch := MinChannel; ch <= MaxChannel; ch++ {
		hz, _ := ChannelToHz(ch)
		out = append(out, struct {
			Channel int
			FreqHz  uint64
		}{ch, hz})
	}
	return out
}
