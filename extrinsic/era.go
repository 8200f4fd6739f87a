package extrinsic

import (
	"errors"
	"fmt"
	"math"

	"github.com/pilacorp/go-substrate-did-sdk/registry"
	"github.com/pilacorp/go-substrate-did-sdk/scale"
)

const (
	// MortalPeriodMillis is how long a mortal extrinsic should stay valid.
	MortalPeriodMillis uint64 = 5 * 60 * 1000
	// MaxFinalityLag is the number of blocks best may run ahead of finalized
	// before best is used as the current block.
	MaxFinalityLag uint64 = 5

	// FallbackBlockHashCount and FallbackMinimumPeriod stand in for runtimes
	// that do not expose the constants.
	FallbackBlockHashCount uint64 = 250
	FallbackMinimumPeriod  uint64 = 6 * 1000

	MinEraPeriod uint64 = 4
	MaxEraPeriod uint64 = 1 << 16
)

var ErrInvalidEraInput = errors.New("invalid era input")

// Era is the mortality of an extrinsic. The zero value is immortal.
type Era struct {
	Period uint64
	Phase  uint64
}

var Immortal = Era{}

var eraNode = &registry.EraNode{}

// NewMortalEra validates period and phase.
func NewMortalEra(period, phase uint64) (Era, error) {
	if period < MinEraPeriod || period > MaxEraPeriod || period&(period-1) != 0 {
		return Era{}, fmt.Errorf("%w: period %d is not a power of two in [%d, %d]", ErrInvalidEraInput, period, MinEraPeriod, MaxEraPeriod)
	}

	if phase >= period {
		return Era{}, fmt.Errorf("%w: phase %d must be below period %d", ErrInvalidEraInput, phase, period)
	}

	return Era{Period: period, Phase: phase}, nil
}

func (e Era) IsImmortal() bool {
	return e.Period == 0
}

// Value is the registry representation of the era.
func (e Era) Value() registry.Value {
	if e.IsImmortal() {
		return registry.String("Immortal")
	}

	return registry.Map("period", registry.Uint(e.Period), "phase", registry.Uint(e.Phase))
}

// Encode writes one byte for immortal eras and two for mortal ones.
func (e Era) Encode(enc *scale.Encoder) error {
	return eraNode.Encode(nil, enc, e.Value())
}

func (e Era) Bytes() ([]byte, error) {
	enc := scale.NewEncoder()
	if err := e.Encode(enc); err != nil {
		return nil, err
	}

	return enc.Bytes(), nil
}

func DecodeEra(d *scale.Decoder) (Era, error) {
	v, err := eraNode.Decode(nil, d)
	if err != nil {
		return Era{}, err
	}

	if v.Kind() == registry.KindString {
		return Immortal, nil
	}

	period, _ := v.Get("period")
	phase, _ := v.Get("phase")
	p, _ := period.AsNumber()
	ph, _ := phase.AsNumber()

	return Era{Period: p.Uint64(), Phase: ph.Uint64()}, nil
}

// Birth is the first block of the era containing current.
func (e Era) Birth(current uint64) uint64 {
	if e.IsImmortal() {
		return 0
	}

	return (max(current, e.Phase)-e.Phase)/e.Period*e.Period + e.Phase
}

// Death is the first block at which the extrinsic is no longer valid.
func (e Era) Death(current uint64) uint64 {
	if e.IsImmortal() {
		return math.MaxUint64
	}

	return e.Birth(current) + e.Period
}

func (e Era) String() string {
	if e.IsImmortal() {
		return "Immortal"
	}

	return fmt.Sprintf("Mortal(period=%d, phase=%d)", e.Period, e.Phase)
}

// ComputeEra picks a mortal era from the chain's BlockHashCount and
// Timestamp.MinimumPeriod constants and returns the block the era is
// anchored to. minimumPeriod is used as the block time in milliseconds.
func ComputeEra(blockHashCount, minimumPeriod, currentBlock uint64) (uint64, Era, error) {
	if minimumPeriod == 0 {
		return 0, Era{}, fmt.Errorf("%w: minimum period is zero", ErrInvalidEraInput)
	}

	unmappedPeriod := MortalPeriodMillis/minimumPeriod + MaxFinalityLag
	mortalLength := min(blockHashCount, unmappedPeriod)
	constrained := min(MaxEraPeriod, max(MinEraPeriod, mortalLength))

	period := uint64(1)
	for period < constrained {
		period <<= 1
	}

	quantizeFactor := max(period>>12, 1)
	phase := (currentBlock % period) / quantizeFactor * quantizeFactor
	start := (currentBlock-phase)/period*period + phase

	return start, Era{Period: period, Phase: phase}, nil
}

// ResolveCurrentBlock chooses the block an era is computed from. Best is
// used only once it runs more than lag blocks ahead of finalized.
func ResolveCurrentBlock(finalized, best, lag uint64) (uint64, error) {
	if best < finalized {
		return 0, fmt.Errorf("%w: best block %d is behind finalized block %d", ErrInvalidEraInput, best, finalized)
	}

	if best-finalized > lag {
		return best, nil
	}

	return finalized, nil
}
