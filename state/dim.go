package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// light.turn_on brightness fields
const (
	FieldBrightness        = "brightness"
	FieldBrightnessPct     = "brightness_pct"
	FieldBrightnessStep    = "brightness_step"
	FieldBrightnessStepPct = "brightness_step_pct"
)

var (
	ErrNoDimValue    = errors.New("no brightness value given")
	ErrDimOutOfRange = errors.New("brightness value out of range")
)

// Params is the single brightness parameter sent with each member command.
type Params struct {
	Field string
	Value int
}

func (p Params) Map() map[string]interface{} {
	return map[string]interface{}{p.Field: p.Value}
}

func (p Params) String() string {
	return fmt.Sprintf("%s=%d", p.Field, p.Value)
}

// Dispatcher turns on a single light with the given brightness parameter.
type Dispatcher interface {
	TurnOn(ctx context.Context, entityID string, params Params) error
}

type DimRequest interface {
	Params() (Params, error)
}

// DimAbsolute sets every member to a brightness (0-255) or a percentage.
type DimAbsolute struct {
	Brightness    *int `json:"brightness,omitempty"`
	BrightnessPct *int `json:"brightness_pct,omitempty"`
}

// Params prefers the percentage when both forms are present.
func (d DimAbsolute) Params() (Params, error) {
	switch {
	case d.BrightnessPct != nil:
		if *d.BrightnessPct < 0 || *d.BrightnessPct > 100 {
			return Params{}, errors.Wrapf(ErrDimOutOfRange, "%s %d", FieldBrightnessPct, *d.BrightnessPct)
		}
		return Params{Field: FieldBrightnessPct, Value: *d.BrightnessPct}, nil
	case d.Brightness != nil:
		if *d.Brightness < 0 || *d.Brightness > 255 {
			return Params{}, errors.Wrapf(ErrDimOutOfRange, "%s %d", FieldBrightness, *d.Brightness)
		}
		return Params{Field: FieldBrightness, Value: *d.Brightness}, nil
	}
	return Params{}, ErrNoDimValue
}

// DimRelative moves every member's brightness by a signed step or step percentage.
type DimRelative struct {
	BrightnessStep    *int `json:"brightness_step,omitempty"`
	BrightnessStepPct *int `json:"brightness_step_pct,omitempty"`
}

func (d DimRelative) Params() (Params, error) {
	switch {
	case d.BrightnessStepPct != nil:
		if *d.BrightnessStepPct < -100 || *d.BrightnessStepPct > 100 {
			return Params{}, errors.Wrapf(ErrDimOutOfRange, "%s %d", FieldBrightnessStepPct, *d.BrightnessStepPct)
		}
		return Params{Field: FieldBrightnessStepPct, Value: *d.BrightnessStepPct}, nil
	case d.BrightnessStep != nil:
		if *d.BrightnessStep < -255 || *d.BrightnessStep > 255 {
			return Params{}, errors.Wrapf(ErrDimOutOfRange, "%s %d", FieldBrightnessStep, *d.BrightnessStep)
		}
		return Params{Field: FieldBrightnessStep, Value: *d.BrightnessStep}, nil
	}
	return Params{}, ErrNoDimValue
}

// FanoutError lists the members whose command failed.
type FanoutError struct {
	Failed map[string]error
	Total  int
}

func (e *FanoutError) Error() string {
	var parts []string
	for entityID, err := range e.Failed {
		parts = append(parts, entityID+": "+err.Error())
	}
	return fmt.Sprintf("%d of %d members failed: %s", len(e.Failed), e.Total, strings.Join(parts, "; "))
}

// Fanout sends params to each member in order, waiting for each command before
// issuing the next. A failed member does not stop the remaining ones.
func Fanout(ctx context.Context, d Dispatcher, members []string, params Params) error {
	failed := map[string]error{}
	for _, entityID := range members {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "dim cancelled")
		}
		if err := d.TurnOn(ctx, entityID, params); err != nil {
			failed[entityID] = err
		}
	}
	if len(failed) > 0 {
		return &FanoutError{Failed: failed, Total: len(members)}
	}
	return nil
}
