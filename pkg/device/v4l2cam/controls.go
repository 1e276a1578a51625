package v4l2cam

import (
	"github.com/vladimirvivien/go4vl/v4l2"

	"camhal/pkg/device"
	"camhal/pkg/params"
)

const (
	CtrlColorFX            v4l2.CtrlID = 0x0098091f
	CtrlPowerLineFrequency v4l2.CtrlID = 0x00980918
	CtrlWhiteBalancePreset v4l2.CtrlID = 0x009a0914
	CtrlZoomAbsolute       v4l2.CtrlID = 0x009a090d
)

var colorFX = map[int32]v4l2.CtrlValue{
	params.EffectOff:      0,
	params.EffectMono:     1,
	params.EffectSepia:    2,
	params.EffectNegative: 3,
	params.EffectAqua:     10,
	params.EffectSolarize: 13,
}

var whiteBalancePreset = map[int32]v4l2.CtrlValue{
	params.WBAuto:         1,
	params.WBIncandescent: 2,
	params.WBFluorescent:  3,
	params.WBTwilight:     5, // horizon
	params.WBDaylight:     6,
	params.WBCloudy:       8,
	params.WBShade:        9,
}

var powerLine = map[int32]v4l2.CtrlValue{
	params.AntibandingOff:  0,
	params.Antibanding50Hz: 1,
	params.Antibanding60Hz: 2,
	params.AntibandingAuto: 3,
}

// mapControl translates a set-parameter command and its device code into
// a V4L2 control.
func mapControl(typ device.CtrlType, code int32) (v4l2.CtrlID, v4l2.CtrlValue, bool) {
	var (
		id    v4l2.CtrlID
		table map[int32]v4l2.CtrlValue
	)
	switch typ {
	case device.CtrlSetEffect:
		id, table = CtrlColorFX, colorFX
	case device.CtrlSetWhiteBalance:
		id, table = CtrlWhiteBalancePreset, whiteBalancePreset
	case device.CtrlSetAntibanding:
		id, table = CtrlPowerLineFrequency, powerLine
	case device.CtrlSetZoom:
		if code < 0 {
			return 0, 0, false
		}
		return CtrlZoomAbsolute, v4l2.CtrlValue(code), true
	default:
		return 0, 0, false
	}
	v, ok := table[code]
	return id, v, ok
}
