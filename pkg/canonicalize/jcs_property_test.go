//go:build property
// +build property

package canonicalize

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCanonicalFormLaws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Marshal is deterministic", prop.ForAll(
		func(keys, values []string) bool {
			obj := make(map[string]string)
			for i := 0; i < len(keys) && i < len(values); i++ {
				obj[keys[i]] = values[i]
			}

			a, err1 := Marshal(obj)
			b, err2 := Marshal(obj)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return string(a) == string(b)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("Hash agrees with HashBytes over Marshal", prop.ForAll(
		func(s string) bool {
			h1, err := Hash(s)
			if err != nil {
				return false
			}
			data, err := Marshal(s)
			if err != nil {
				return false
			}
			return h1 == HashBytes(data)
		},
		gen.AnyString(),
	))

	properties.Property("Prefix8 is 8 lowercase hex chars", prop.ForAll(
		func(data []byte) bool {
			p := Prefix8(data)
			if len(p) != 8 {
				return false
			}
			for _, c := range p {
				if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
