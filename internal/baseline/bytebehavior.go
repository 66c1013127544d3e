package baseline

// minSamplesForConfidentClassification is the floor below which a byte
// position is classified "rare" rather than static/counter/variable —
// there simply isn't enough learning-window data to say anything useful
// about it (spec §3: the 4th byte_behavior class).
const minSamplesForConfidentClassification = 3

// classifyByte implements spec §4.2's freeze-time byte classification:
// static if every observed value at this position is identical; counter
// if the observed values form one consistent step under modulus
// arithmetic and there are at least minCounterSamples of them;
// variable otherwise; rare if there isn't enough data to say.
func classifyByte(values []byte, minCounterSamples, modulus int) ByteBehavior {
	if len(values) < minSamplesForConfidentClassification {
		return ByteBehavior{Kind: BehaviorRare}
	}

	allSame := true
	for _, v := range values[1:] {
		if v != values[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return ByteBehavior{Kind: BehaviorStatic, StaticValue: values[0]}
	}

	if len(values) >= minCounterSamples {
		if step, ok := consistentStep(values, modulus); ok && step != 0 {
			return ByteBehavior{Kind: BehaviorCounter, Step: step, Modulus: modulus}
		}
	}

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return ByteBehavior{Kind: BehaviorVariable, Min: min, Max: max}
}

// consistentStep reports whether every consecutive pair in values
// advances by the same step, modulo modulus.
func consistentStep(values []byte, modulus int) (int, bool) {
	step := -1
	for i := 1; i < len(values); i++ {
		d := ((int(values[i]) - int(values[i-1])) % modulus + modulus) % modulus
		if step == -1 {
			step = d
		} else if d != step {
			return 0, false
		}
	}
	if step == -1 {
		return 0, false
	}
	return step, true
}

// WithinCounterStep reports whether observing newVal right after prevVal
// is consistent with the learned counter(step, modulus) behavior,
// tolerating up to allowedSkips missed increments (spec §4.3.b rule 4).
func WithinCounterStep(prevVal, newVal byte, behavior ByteBehavior, allowedSkips int) bool {
	d := ((int(newVal) - int(prevVal)) % behavior.Modulus + behavior.Modulus) % behavior.Modulus
	for skip := 0; skip <= allowedSkips; skip++ {
		want := (behavior.Step * (skip + 1)) % behavior.Modulus
		if d == want {
			return true
		}
	}
	return false
}
