package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connectSpec struct {
	From string `hcl:"from" validate:"required,slot_ref"`
	To   string `hcl:"to" validate:"required,slot_ref"`
}

type sample struct {
	Applet  string        `json:"applet" validate:"applet_name"`
	Slot    string        `json:"slot" validate:"slot_name"`
	Axes    string        `json:"axes" validate:"axis_tags"`
	Logger  string        `yaml:"logger" validate:"logger_name"`
	Level   string        `yaml:"level" validate:"log_level"`
	Store   string        `json:"store" validate:"store_dsn"`
	Workers int           `json:"workers" validate:"gte=1,lte=64"`
	Connect []connectSpec `hcl:"connect,block" validate:"dive"`
}

func valid() sample {
	return sample{
		Applet:  "Feature Selection",
		Slot:    "OutputImage",
		Axes:    "xyc",
		Logger:  "lazyflow.operators",
		Level:   "info",
		Store:   "sqlite:/tmp/p.db",
		Workers: 4,
		Connect: []connectSpec{{From: "Input Data.Image", To: "Watershed.RawData"}},
	}
}

func TestValidateWithPlayground(t *testing.T) {
	require.NoError(t, ValidateWithPlayground(valid()))

	tests := []struct {
		name   string
		mutate func(*sample)
		field  string
	}{
		{"applet name", func(s *sample) { s.Applet = "1bad" }, "sample.applet"},
		{"slot name", func(s *sample) { s.Slot = "Output Image" }, "sample.slot"},
		{"axes duplicate", func(s *sample) { s.Axes = "xx" }, "sample.axes"},
		{"axes unknown", func(s *sample) { s.Axes = "xq" }, "sample.axes"},
		{"logger", func(s *sample) { s.Logger = "lazyflow..graph" }, "sample.logger"},
		{"level", func(s *sample) { s.Level = "loud" }, "sample.level"},
		{"store", func(s *sample) { s.Store = "mysql://x" }, "sample.store"},
		{"workers", func(s *sample) { s.Workers = 0 }, "sample.workers"},
		{"slot ref", func(s *sample) { s.Connect[0].To = "Watershed" }, "sample.connect[0].to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			s.Connect = append([]connectSpec(nil), s.Connect...)
			tt.mutate(&s)
			err := ValidateWithPlayground(s)
			require.Error(t, err)
			var ve ValidationErrors
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, []string{tt.field}, Fields(err))
			assert.NotEmpty(t, ve[0].Message)
		})
	}
}

func TestSplitSlotRef(t *testing.T) {
	a, s, err := SplitSlotRef("Input Data.Image")
	require.NoError(t, err)
	assert.Equal(t, "Input Data", a)
	assert.Equal(t, "Image", s)

	for _, bad := range []string{"", "Image", ".Image", "Applet.", "Applet.Bad Slot"} {
		_, _, err := SplitSlotRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidAxisTags(t *testing.T) {
	assert.True(t, ValidAxisTags("txyzc"))
	assert.True(t, ValidAxisTags("yx"))
	assert.False(t, ValidAxisTags(""))
	assert.False(t, ValidAxisTags("xyx"))
}

type selfCheck struct{ err error }

func (s selfCheck) Validate() error { return s.err }

func TestValidationErrorsHelpers(t *testing.T) {
	var errs ValidationErrors
	assert.NoError(t, errs.Err())
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("applet", "x", "unknown applet type %q", "x")
	require.Error(t, errs.Err())
	assert.Contains(t, errs.Error(), `unknown applet type "x"`)

	boom := errors.New("boom")
	err := ValidateAll(selfCheck{}, nil, selfCheck{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, ValidateAll(selfCheck{}))
}
