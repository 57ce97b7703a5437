package wrapper

import "github.com/SharkGamerZ/CRAB/pkg/types"

func init() {
	Register("nulldummy", func(args string) Wrapper {
		return &nullDummy{base: base{Args: args}}
	})
}

// nullDummy is a no-op wrapper used for schedule and timeout testing
// without a real binary, grounded on wrappers/null_dummy.py.
type nullDummy struct{ base }

func (d *nullDummy) Metadata() []types.MetricDescriptor { return nil }
func (d *nullDummy) BuildCommand() string               { return "" }
func (d *nullDummy) ParseOutput(stdout string) ([][]float64, error) {
	return nil, nil
}
