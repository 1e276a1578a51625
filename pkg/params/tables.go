package params

import (
	"slices"
	"strings"

	"camhal/pkg/types"
)

// Device codes for the enumerated settings.
const (
	EffectOff        int32 = 1
	EffectMono       int32 = 2
	EffectNegative   int32 = 3
	EffectSolarize   int32 = 4
	EffectSepia      int32 = 5
	EffectPosterize  int32 = 6
	EffectWhiteboard int32 = 7
	EffectBlackboard int32 = 8
	EffectAqua       int32 = 9

	WBAuto         int32 = 1
	WBIncandescent int32 = 3
	WBFluorescent  int32 = 4
	WBDaylight     int32 = 5
	WBCloudy       int32 = 6
	WBTwilight     int32 = 7
	WBShade        int32 = 8

	AntibandingOff  int32 = 0
	Antibanding60Hz int32 = 1
	Antibanding50Hz int32 = 2
	AntibandingAuto int32 = 3

	Shot1M int32 = 1
	Shot2M int32 = 2
	Shot3M int32 = 3
)

// NotFound is returned by lookups of absent or unknown values.
const NotFound = -1

type entry struct {
	name string
	code int32
}

// Table is an immutable name to device code mapping.
type Table struct {
	entries []entry
	values  string
}

func newTable(entries ...entry) Table {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return Table{entries: entries, values: strings.Join(names, ",")}
}

// Lookup returns the code for name, or NotFound.
func (t Table) Lookup(name string) int32 {
	for _, e := range t.entries {
		if e.name == name {
			return e.code
		}
	}
	return NotFound
}

// Name returns the first name mapped to code.
func (t Table) Name(code int32) (string, bool) {
	for _, e := range t.entries {
		if e.code == code {
			return e.name, true
		}
	}
	return "", false
}

func (t Table) Names() []string {
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.name
	}
	return names
}

// Values is the comma separated list advertised in the *-values keys.
func (t Table) Values() string {
	return t.values
}

var (
	Effects = newTable(
		entry{"none", EffectOff},
		entry{"mono", EffectMono},
		entry{"negative", EffectNegative},
		entry{"solarize", EffectSolarize},
		entry{"sepia", EffectSepia},
		entry{"posterize", EffectPosterize},
		entry{"whiteboard", EffectWhiteboard},
		entry{"blackboard", EffectBlackboard},
		entry{"aqua", EffectAqua},
	)
	WhiteBalances = newTable(
		entry{"auto", WBAuto},
		entry{"incandescent", WBIncandescent},
		entry{"fluorescent", WBFluorescent},
		entry{"daylight", WBDaylight},
		entry{"cloudy", WBCloudy},
		entry{"twilight", WBTwilight},
		entry{"shade", WBShade},
	)
	Antibandings = newTable(
		entry{"off", AntibandingOff},
		entry{"50hz", Antibanding50Hz},
		entry{"60hz", Antibanding60Hz},
		entry{"auto", AntibandingAuto},
	)
	PictureSizes = newTable(
		entry{"2048x1536", Shot3M},
		entry{"1600x1200", Shot2M},
		entry{"1024x768", Shot1M},
	)

	previewSizes = []types.Size{
		{Width: 384, Height: 288},
		{Width: 320, Height: 240},
		{Width: 240, Height: 160},
		{Width: 192, Height: 144},
	}
	previewSizeValues = joinSizes(previewSizes)
)

func joinSizes(sizes []types.Size) string {
	s := make([]string, len(sizes))
	for i, size := range sizes {
		s[i] = size.String()
	}
	return strings.Join(s, ",")
}

// PreviewSizes returns the supported preview sizes, largest first.
func PreviewSizes() []types.Size {
	return slices.Clone(previewSizes)
}

func IsPreviewSize(size types.Size) bool {
	return slices.Contains(previewSizes, size)
}

// ZoomStep is the device zoom increment per zoom parameter unit for a
// picture-size code. Full-resolution shots cannot be zoomed.
func ZoomStep(shot int32) int32 {
	switch shot {
	case Shot1M:
		return 4
	case Shot2M:
		return 2
	default:
		return 0
	}
}
