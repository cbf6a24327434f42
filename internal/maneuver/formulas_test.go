package maneuver

import (
	"math"
	"testing"
)

func TestVisVivaCircularLEO(t *testing.T) {
	// Circular orbit at 6771 km (~393 km altitude): ~7.67 km/s.
	v := VisViva(6771, 6771, MuEarth)
	if math.Abs(v-7.67) > 0.1 {
		t.Errorf("VisViva(6771, 6771) = %.4f km/s, want ~7.67", v)
	}
}

func TestHohmannDVSmallRaise(t *testing.T) {
	dv1, dv2 := HohmannDV(6771, 6871, MuEarth)
	if dv1 <= 0 {
		t.Errorf("dv1 = %.6f, want > 0", dv1)
	}
	if dv2 <= 0 {
		t.Errorf("dv2 = %.6f, want > 0", dv2)
	}
	if total := dv1 + dv2; total >= 0.2 {
		t.Errorf("total delta-v = %.4f km/s, want < 0.2 for a 100 km raise", total)
	}
}

func TestHohmannDVSymmetricDirection(t *testing.T) {
	// Lowering should cost the same magnitude as raising.
	up1, up2 := HohmannDV(6771, 6871, MuEarth)
	down1, down2 := HohmannDV(6871, 6771, MuEarth)
	if math.Abs((up1+up2)-(down1+down2)) > 1e-9 {
		t.Errorf("raise total %.9f != lower total %.9f", up1+up2, down1+down2)
	}
}

func TestInclinationChangeDV(t *testing.T) {
	got := InclinationChangeDV(7.67, 5)
	want := 2 * 7.67 * math.Sin(2.5*math.Pi/180)
	if math.Abs(got-want) > 0.01 {
		t.Errorf("InclinationChangeDV(7.67, 5) = %.6f, want %.6f", got, want)
	}
}

func TestEstimateFuelTsiolkovsky(t *testing.T) {
	got := EstimateFuel(1.0, 500, 3100)
	want := 500 * (1 - math.Exp(-1.0/(3100*G0)))
	if math.Abs(got-want) > 0.1 {
		t.Errorf("EstimateFuel(1.0, 500, 3100) = %.4f kg, want %.4f", got, want)
	}
	if got >= 500 {
		t.Errorf("fuel %.4f kg must be less than spacecraft mass", got)
	}
}

func TestEstimateFuelZeroDV(t *testing.T) {
	if got := EstimateFuel(0, 500, 3100); got != 0 {
		t.Errorf("EstimateFuel(0, ...) = %.6f, want 0", got)
	}
}

func TestEstimateFuelAlwaysBelowMass(t *testing.T) {
	for _, dv := range []float64{0.001, 0.1, 1, 5, 20, 100} {
		if fuel := EstimateFuel(dv, 500, 3100); fuel >= 500 {
			t.Errorf("EstimateFuel(%.3f, 500, 3100) = %.4f, want < 500", dv, fuel)
		}
	}
}

func TestEstimateBurnDuration(t *testing.T) {
	// 0.01 km/s = 10 m/s at 1 N on 500 kg: a = 0.002 m/s^2 → 5000 s.
	got := EstimateBurnDuration(0.01, 1, 500)
	if math.Abs(got-5000) > 1e-6 {
		t.Errorf("EstimateBurnDuration(0.01, 1, 500) = %.4f s, want 5000", got)
	}
	if EstimateBurnDuration(0, 1, 500) != 0 {
		t.Error("zero delta-v should take zero time")
	}
}

func TestSemiMajorAxisRoundTrip(t *testing.T) {
	// Speed from vis-viva on a known orbit must invert back to the same a.
	const r, a = 6871.0, 7000.0
	v := VisViva(r, a, MuEarth)
	got := SemiMajorAxisFromState(r, v, MuEarth)
	if math.Abs(got-a) > 1e-6 {
		t.Errorf("SemiMajorAxisFromState = %.8f, want %.1f", got, a)
	}
}
