package compliance

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDeviceStatus(t *testing.T) {
	tests := []struct {
		fact Fact
		want Status
	}{
		{FactTrue, StatusOn},
		{FactFalse, StatusOff},
		{FactNudge, StatusOff},
		{FactUnsupported, StatusUnsupported},
		{FactUnknown, StatusUnknown},
		{Fact(42), StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.fact.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ToDeviceStatus(tt.fact))
		})
	}
}

func TestToPassFail(t *testing.T) {
	assert.Equal(t, StatusPass, ToPassFail(FactTrue))
	assert.Equal(t, StatusFail, ToPassFail(FactFalse))
	assert.Equal(t, StatusUnknown, ToPassFail(FactNudge))
	assert.Equal(t, StatusUnknown, ToPassFail(FactUnsupported))
	assert.Equal(t, StatusUnknown, ToPassFail(FactUnknown))
}

func TestRequirementApply(t *testing.T) {
	tests := []struct {
		name string
		req  Requirement
		fact Fact
		want Status
	}{
		{"always true", RequireAlways, FactTrue, StatusPass},
		{"always false", RequireAlways, FactFalse, StatusFail},
		{"default false", "", FactFalse, StatusFail},
		{"suggested false", RequireSuggested, FactFalse, StatusNudge},
		{"never true", RequireNever, FactTrue, StatusFail},
		{"never false", RequireNever, FactFalse, StatusPass},
		{"if supported unsupported", RequireIfSupported, FactUnsupported, StatusPass},
		{"always unsupported", RequireAlways, FactUnsupported, StatusUnsupported},
		{"unknown stays unknown", RequireSuggested, FactUnknown, StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Apply(tt.fact))
		})
	}
}

func TestReduceItems(t *testing.T) {
	tests := []struct {
		name         string
		items        []ItemResult
		want         Status
		wantResolved bool
	}{
		{"empty passes", nil, StatusPass, true},
		{"all pass", []ItemResult{{Status: StatusPass}, {Status: StatusPass}}, StatusPass, true},
		{"any fail", []ItemResult{{Status: StatusPass}, {Status: StatusNudge}, {Status: StatusFail}}, StatusFail, true},
		{"mixed stays unresolved", []ItemResult{{Status: StatusPass}, {Status: StatusNudge}}, StatusNudge, false},
		{"unknown stays unresolved", []ItemResult{{Status: StatusUnknown}}, StatusUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, resolved := ReduceItems(tt.items)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantResolved, resolved)
		})
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks []Check
		want   Status
	}{
		{"all passing", []Check{ValueCheck("a", StatusPass), ValueCheck("b", StatusOn)}, StatusPass},
		{"null ignored", []Check{ValueCheck("a", StatusPass), NullCheck("b")}, StatusPass},
		{"worst wins", []Check{ValueCheck("a", StatusNudge), ValueCheck("b", StatusFail), ValueCheck("c", StatusUnknown)}, StatusFail},
		{"error beats fail", []Check{ValueCheck("a", StatusFail), ValueCheck("b", StatusError)}, StatusError},
		{"array reduced first", []Check{
			ValueCheck("a", StatusPass),
			ListCheck("apps", []ItemResult{{Name: "x", Status: StatusPass}}),
		}, StatusPass},
		{"unresolved array counts", []Check{
			ListCheck("apps", []ItemResult{{Name: "x", Status: StatusPass}, {Name: "y", Status: StatusNudge}}),
		}, StatusNudge},
		{"off is not passing", []Check{ValueCheck("firewall", StatusOff)}, StatusOff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OverallStatus(tt.checks)
			assert.Equal(t, tt.want, got)

			allPassing := true
			for _, c := range tt.checks {
				if c.IsNull() {
					continue
				}
				if s, _ := c.Reduce(); !s.Passing() {
					allPassing = false
				}
			}
			assert.Equal(t, allPassing, got == StatusPass)
		})
	}
}

func TestScanResultJSONKeepsOrder(t *testing.T) {
	r := NewScanResult(
		ValueCheck("screenLock", StatusPass),
		NullCheck("firewall"),
		ListCheck("applications", []ItemResult{{Name: "Chrome", Status: StatusFail, Reason: "OUT_OF_DATE", Version: "1.0.0"}}),
		ValueCheck("diskEncryption", StatusNudge),
	)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"status":"FAIL","screenLock":"PASS","firewall":null,"applications":[{"name":"Chrome","status":"FAIL","reason":"OUT_OF_DATE","version":"1.0.0"}],"diskEncryption":"NUDGE"}`,
		string(data))

	var back ScanResult
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Checks, 4)
	assert.Equal(t, StatusFail, back.Status)
	assert.Equal(t, "screenLock", back.Checks[0].Name)
	assert.True(t, back.Checks[1].IsNull())
	assert.True(t, back.Checks[2].IsArray())
	assert.Equal(t, "diskEncryption", back.Checks[3].Name)
}

func TestScanResultUnmarshalForeignScalar(t *testing.T) {
	var r ScanResult
	require.NoError(t, json.Unmarshal([]byte(`{"status":"PASS","b":"ON","a":7,"z":[]}`), &r))
	require.Len(t, r.Checks, 3)
	assert.Equal(t, "b", r.Checks[0].Name)
	assert.Equal(t, Status("7"), r.Checks[1].Status)
	assert.True(t, r.Checks[2].IsArray())
	assert.Empty(t, r.Checks[2].Items)
}

func TestParsePolicy(t *testing.T) {
	obj := []byte(`{"diskEncryption":"ALWAYS","screenIdle":"<=600","applications":[{"name":"Slack","version":">=4.0.0"}]}`)
	p, err := ParsePolicy(obj)
	require.NoError(t, err)
	assert.Equal(t, RequireAlways, p.DiskEncryption)
	assert.Equal(t, "<=600", p.ScreenIdle)
	require.Len(t, p.Applications, 1)

	quoted, err := json.Marshal(string(obj))
	require.NoError(t, err)
	p2, err := ParsePolicy(quoted)
	require.NoError(t, err)
	assert.Equal(t, p, p2)

	empty, err := ParsePolicy([]byte("null"))
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	_, err = ParsePolicy([]byte(`{"diskEncryption":`))
	assert.Error(t, err)
}

func TestCoerceVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"10.0.19045.3693", "10.0.19045", true},
		{"v4.33", "4.33.0", true},
		{"122", "122.0.0", true},
		{"build 7 (beta)", "7.0.0", true},
		{"unknown", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, ok := CoerceVersion(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, v.String())
			}
		})
	}
}

func TestSatisfies(t *testing.T) {
	ok, err := Satisfies("600", "<=600")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Satisfies("10.15.7", ">=11.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Satisfies("garbage", ">=1.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Satisfies("1.0.0", "not a range")
	assert.Error(t, err)
}

func TestNormalizeOSVersion(t *testing.T) {
	assert.Equal(t, "10.15.0", NormalizeOSVersion("10.15"))
	assert.Equal(t, "14.2.1", NormalizeOSVersion("14.2.1"))
	assert.Equal(t, "22.0.0", NormalizeOSVersion("22"))
}

func TestPlatformFilter(t *testing.T) {
	assert.True(t, PlatformFilter(nil).Allows("darwin"))
	assert.True(t, PlatformFilter{"all": true}.Allows("linux"))
	assert.True(t, PlatformFilter{"win32": true}.Allows("win32"))
	assert.False(t, PlatformFilter{"win32": true}.Allows("darwin"))
	assert.Equal(t, "win32", PlatformKey("windows"))
	assert.Equal(t, "darwin", PlatformKey("darwin"))
}
