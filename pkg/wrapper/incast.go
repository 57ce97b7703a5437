package wrapper

import "github.com/SharkGamerZ/CRAB/pkg/types"

func init() {
	Register("incast", func(args string) Wrapper {
		return &incast{base: base{Args: args}}
	})
}

// incast wraps an incast-pattern traffic generator, grounded on
// wrappers/ember-incast.py. It is used as an aggressor workload
// (collect=false by convention) and declares no metrics of its own.
type incast struct{ base }

func (i *incast) Metadata() []types.MetricDescriptor { return nil }

func (i *incast) BuildCommand() string {
	path := lookPath("ember-incast")
	if path == "" {
		return ""
	}
	return path + " " + i.Args
}

func (i *incast) ParseOutput(stdout string) ([][]float64, error) {
	return nil, nil
}
