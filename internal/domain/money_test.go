package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1.00", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true},
		{" 2.50 ", "2.50", true},
		{"-1", "", false},
		{"0", "", false},
		{"0.001", "", false},
		{"abc", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.True(t, got.Equal(dec(tc.out)), "input %q: got %s want %s", tc.in, got, tc.out)
	}
}

func TestMoneyRepeatedSummationIsExact(t *testing.T) {
	total := Money(dec("0"))
	for i := 0; i < 1000; i++ {
		total = total.Add(dec("0.10"))
	}
	assert.Equal(t, "100", total.String())
}

func TestDaysBetween(t *testing.T) {
	a := NewDate(2025, time.January, 1)
	b := NewDate(2025, time.February, 1)

	assert.Equal(t, 31, DaysBetween(a, b))
	assert.Equal(t, -31, DaysBetween(b, a))
	assert.Equal(t, 0, DaysBetween(a, a.Add(13*time.Hour)))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-02-01")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2025, time.February, 1), d)

	_, err = ParseDate("01/02/2025")
	assert.Error(t, err)
}
