package reid

import "math"

// ciede2000 computes the CIEDE2000 color difference ΔE00 between two
// CIELAB colors with all parametric factors kL = kC = kH = 1.
//
// This is the single canonical implementation used by every scoring path;
// keeping one copy keeps re-runs byte-identical. Follows the formulation
// of Sharma, Wu & Dalal (2005), including the hue rotation term.
func ciede2000(c1, c2 LAB) float64 {
	const pow25to7 = 6103515625.0 // 25^7

	chroma1 := math.Hypot(c1.A, c1.B)
	chroma2 := math.Hypot(c2.A, c2.B)
	chromaMean := (chroma1 + chroma2) / 2

	cm7 := math.Pow(chromaMean, 7)
	g := 0.5 * (1 - math.Sqrt(cm7/(cm7+pow25to7)))

	a1p := (1 + g) * c1.A
	a2p := (1 + g) * c2.A

	c1p := math.Hypot(a1p, c1.B)
	c2p := math.Hypot(a2p, c2.B)

	h1p := hueAngleDeg(c1.B, a1p)
	h2p := hueAngleDeg(c2.B, a2p)

	dLp := c2.L - c1.L
	dCp := c2p - c1p

	var dhp float64
	switch {
	case c1p*c2p == 0:
		dhp = 0
	case math.Abs(h2p-h1p) <= 180:
		dhp = h2p - h1p
	case h2p-h1p > 180:
		dhp = h2p - h1p - 360
	default:
		dhp = h2p - h1p + 360
	}
	dHp := 2 * math.Sqrt(c1p*c2p) * math.Sin(degToRad(dhp/2))

	lMean := (c1.L + c2.L) / 2
	cpMean := (c1p + c2p) / 2

	var hpMean float64
	switch {
	case c1p*c2p == 0:
		hpMean = h1p + h2p
	case math.Abs(h1p-h2p) <= 180:
		hpMean = (h1p + h2p) / 2
	case h1p+h2p < 360:
		hpMean = (h1p + h2p + 360) / 2
	default:
		hpMean = (h1p + h2p - 360) / 2
	}

	t := 1 -
		0.17*math.Cos(degToRad(hpMean-30)) +
		0.24*math.Cos(degToRad(2*hpMean)) +
		0.32*math.Cos(degToRad(3*hpMean+6)) -
		0.20*math.Cos(degToRad(4*hpMean-63))

	dTheta := 30 * math.Exp(-math.Pow((hpMean-275)/25, 2))

	cpMean7 := math.Pow(cpMean, 7)
	rc := 2 * math.Sqrt(cpMean7/(cpMean7+pow25to7))
	rt := -math.Sin(degToRad(2*dTheta)) * rc

	lShift := (lMean - 50) * (lMean - 50)
	sl := 1 + 0.015*lShift/math.Sqrt(20+lShift)
	sc := 1 + 0.045*cpMean
	sh := 1 + 0.015*cpMean*t

	lTerm := dLp / sl
	cTerm := dCp / sc
	hTerm := dHp / sh

	return math.Sqrt(lTerm*lTerm + cTerm*cTerm + hTerm*hTerm + rt*cTerm*hTerm)
}

// hueAngleDeg returns atan2(b, ap) in degrees normalized to [0, 360),
// with the CIEDE2000 convention that a zero vector has hue 0.
func hueAngleDeg(b, ap float64) float64 {
	if b == 0 && ap == 0 {
		return 0
	}
	deg := radToDeg(math.Atan2(b, ap))
	if deg < 0 {
		deg += 360
	}
	return deg
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }
