package lenient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFloat_AcceptsNumbersAndNumericStrings(t *testing.T) {
	cases := []struct {
		in    string
		want  float64
		valid bool
	}{
		{`65000.5`, 65000.5, true},
		{`"65000.5"`, 65000.5, true},
		{`" 12 "`, 12, true},
		{`"-3.25"`, -3.25, true},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"N/A"`, 0, false},
		{`"NaN"`, 0, false},
		{`true`, 0, false},
		{`{"usd":1}`, 0, false},
		{`[1]`, 0, false},
	}
	for _, tc := range cases {
		var f Float
		require.NoError(t, json.Unmarshal([]byte(tc.in), &f), tc.in)
		require.Equal(t, tc.valid, f.Valid, tc.in)
		if tc.valid {
			require.InDelta(t, tc.want, f.Value, 1e-9, tc.in)
			require.NotNil(t, f.Ptr())
		} else {
			require.Nil(t, f.Ptr())
		}
	}
}

func TestFloat_MissingFieldStaysInvalid(t *testing.T) {
	var v struct {
		A Float `json:"a"`
		B Float `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1.5"}`), &v))
	require.True(t, v.A.Valid)
	require.False(t, v.B.Valid)
}

func TestInt_RejectsFractions(t *testing.T) {
	var n Int
	require.NoError(t, json.Unmarshal([]byte(`"7"`), &n))
	require.True(t, n.Valid)
	require.Equal(t, 7, *n.Ptr())

	require.NoError(t, json.Unmarshal([]byte(`7.5`), &n))
	require.False(t, n.Valid)
	require.Nil(t, n.Ptr())
}

func TestString_AcceptsNumbers(t *testing.T) {
	var s String
	require.NoError(t, json.Unmarshal([]byte(`1027`), &s))
	require.True(t, s.Valid)
	require.Equal(t, "1027", s.Value)

	require.NoError(t, json.Unmarshal([]byte(`"  "`), &s))
	require.False(t, s.Valid)

	require.NoError(t, json.Unmarshal([]byte(`null`), &s))
	require.False(t, s.Valid)
}

func TestTime_Layouts(t *testing.T) {
	var ts Time
	require.NoError(t, json.Unmarshal([]byte(`"2024-07-17T13:53:47.857Z"`), &ts))
	require.True(t, ts.Valid)
	require.Equal(t, time.Date(2024, 7, 17, 13, 53, 47, 857000000, time.UTC), ts.Value)

	require.NoError(t, json.Unmarshal([]byte(`1721224427857`), &ts))
	require.True(t, ts.Valid)
	require.Equal(t, time.UnixMilli(1721224427857).UTC(), ts.Value)

	require.NoError(t, json.Unmarshal([]byte(`1721224427`), &ts))
	require.True(t, ts.Valid)
	require.Equal(t, time.Unix(1721224427, 0).UTC(), ts.Value)

	require.NoError(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	require.False(t, ts.Valid)
}
