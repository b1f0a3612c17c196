//go:build property

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var kinds = []interface{}{
	KindTemplate, KindTransform, KindModule, KindRender, KindConfig, KindIO, KindInternal,
}

func TestWrapProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("wrapping keeps the cause reachable", prop.ForAll(
		func(kind Kind, op, message string) bool {
			cause := fmt.Errorf("%s", message)
			err := Wrap(kind, op, cause)
			return stderrors.Is(err, cause) && strings.HasSuffix(err.Error(), ": "+message)
		},
		gen.OneConstOf(kinds...),
		gen.AlphaString(),
		gen.AnyString(),
	))

	properties.Property("the outermost kind wins and inner kinds stay visible", prop.ForAll(
		func(outer, inner Kind, path string) bool {
			err := Wrap(outer, "outer", WrapPath(inner, "inner", path, fmt.Errorf("cause")))
			return KindOf(err) == outer && IsKind(err, inner) && IsKind(err, outer)
		},
		gen.OneConstOf(kinds...),
		gen.OneConstOf(kinds...),
		gen.AlphaString(),
	))

	properties.Property("plain errors report internal", prop.ForAll(
		func(message string) bool {
			return KindOf(fmt.Errorf("%s", message)) == KindInternal
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
