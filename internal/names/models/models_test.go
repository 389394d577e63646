package models

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "dattas/pkg/domain-errors"
)

func TestParamsLengthChecks(t *testing.T) {
	p := Params{MinLength: 3, MaxLength: 16, ReservationFee: 10}
	require.NoError(t, p.Validate())

	cases := []struct {
		name       string
		length     int
		signedCode dErrors.Code
		forcedCode dErrors.Code
	}{
		{name: "empty", length: 0, signedCode: dErrors.CodeTooShort},
		{name: "one below min", length: 2, signedCode: dErrors.CodeTooShort},
		{name: "min", length: 3},
		{name: "max", length: 16},
		{name: "one above max", length: 17, signedCode: dErrors.CodeTooLong, forcedCode: dErrors.CodeTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			name := Name(bytes.Repeat([]byte{0xff}, tc.length))

			err := p.CheckSigned(name)
			if tc.signedCode == "" {
				assert.NoError(t, err)
			} else {
				assert.True(t, dErrors.HasCode(err, tc.signedCode))
			}

			err = p.CheckForced(name)
			if tc.forcedCode == "" {
				assert.NoError(t, err)
			} else {
				assert.True(t, dErrors.HasCode(err, tc.forcedCode))
			}
		})
	}
}

func TestParamsValidate(t *testing.T) {
	assert.Error(t, Params{MinLength: 5, MaxLength: 4}.Validate())
	assert.Error(t, Params{MinLength: -1, MaxLength: 4}.Validate())
	assert.NoError(t, Params{MinLength: 0, MaxLength: 0}.Validate())
}

func TestNameClone(t *testing.T) {
	orig := Name("gav")
	c := orig.Clone()
	c[0] = 'x'
	assert.Equal(t, Name("gav"), orig)
	assert.Nil(t, Name(nil).Clone())

	text, ok := Name{0xff, 0xfe}.Text()
	assert.False(t, ok)
	assert.Empty(t, text)
	assert.Equal(t, "fffe", Name{0xff, 0xfe}.Hex())
}
