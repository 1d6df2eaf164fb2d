package tender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseROCDate(t *testing.T) {
	t.Parallel()

	got, err := ParseROCDate("113/10/30")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.October, 30, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseROCDate(" 99/01/05 ")
	require.NoError(t, err)
	require.Equal(t, time.Date(2010, time.January, 5, 0, 0, 0, 0, time.UTC), got)
}

func TestParseROCDate_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "113-10-30", "113/10", "abc/10/30", "113/13/01", "113/02/30", "0/01/01"} {
		_, err := ParseROCDate(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestFormatROCDate_RoundTrip(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", FormatROCDate(time.Time{}))

	orig := "113/03/07"
	parsed, err := ParseROCDate(orig)
	require.NoError(t, err)
	require.Equal(t, orig, FormatROCDate(parsed))
}

func TestPhaseValid(t *testing.T) {
	t.Parallel()

	require.True(t, PhaseDiscovery.Valid())
	require.True(t, PhaseDetail.Valid())
	require.True(t, PhaseBoth.Valid())
	require.False(t, Phase("all").Valid())
}

func TestIsDetailColumn(t *testing.T) {
	t.Parallel()

	require.True(t, IsDetailColumn("tender_method"))
	require.True(t, IsDetailColumn("last_error"))
	require.False(t, IsDetailColumn("scrap_status"))
	require.False(t, IsDetailColumn("url; DROP TABLE tenders"))
}
