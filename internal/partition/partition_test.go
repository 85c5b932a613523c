package partition

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
)

func practices(names ...string) map[string]Practice {
	out := make(map[string]Practice, len(names))
	for _, n := range names {
		out[n] = Practice{Title: n + " title", Directions: map[string]string{"darwin": "do " + n}}
	}
	return out
}

func names(actions []Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Name
	}
	return out
}

func TestComputeBuckets(t *testing.T) {
	result := compliance.NewScanResult(
		compliance.ValueCheck("osVersion", compliance.StatusNudge),
		compliance.ValueCheck("diskEncryption", compliance.StatusPass),
		compliance.ValueCheck("firewall", compliance.StatusFail),
		compliance.ValueCheck("screenLock", compliance.StatusUnknown),
		compliance.ValueCheck("remoteLogin", compliance.StatusError),
		compliance.ValueCheck("screenIdle", compliance.StatusPass),
		compliance.NullCheck("antivirus"),
	)
	p := Compute(result, practices("osVersion", "diskEncryption", "firewall", "screenLock", "remoteLogin", "screenIdle", "antivirus"),
		"darwin", zap.NewNop())

	assert.Equal(t, []string{"firewall"}, names(p.Critical))
	assert.Equal(t, []string{"osVersion"}, names(p.Suggested))
	assert.Equal(t, []string{"screenLock"}, names(p.Unknown))
	assert.Equal(t, []string{"diskEncryption", "screenIdle"}, names(p.Done))
	assert.Equal(t, []string{"remoteLogin"}, names(p.Error))
	assert.Equal(t, 6, p.Len())

	fw := p.Critical[0]
	assert.Equal(t, "firewall title", fw.Title)
	assert.Equal(t, "do firewall", fw.Directions)
	assert.Nil(t, fw.Results)
}

func TestComputeArrays(t *testing.T) {
	tests := []struct {
		name   string
		items  []compliance.ItemResult
		bucket func(Partition) []Action
		status compliance.Status
	}{
		{
			name:   "all pass",
			items:  []compliance.ItemResult{{Name: "a", Status: compliance.StatusPass}, {Name: "b", Status: compliance.StatusPass}},
			bucket: func(p Partition) []Action { return p.Done },
			status: compliance.StatusPass,
		},
		{
			name:   "empty",
			items:  nil,
			bucket: func(p Partition) []Action { return p.Done },
			status: compliance.StatusPass,
		},
		{
			name:   "any fail",
			items:  []compliance.ItemResult{{Name: "a", Status: compliance.StatusNudge}, {Name: "b", Status: compliance.StatusFail}},
			bucket: func(p Partition) []Action { return p.Critical },
			status: compliance.StatusFail,
		},
		{
			name:   "unresolved mix",
			items:  []compliance.ItemResult{{Name: "a", Status: compliance.StatusPass}, {Name: "b", Status: compliance.StatusUnknown}},
			bucket: func(p Partition) []Action { return p.Suggested },
			status: compliance.StatusUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := compliance.NewScanResult(compliance.ListCheck("applications", tt.items))
			p := Compute(result, practices("applications"), "darwin", zap.NewNop())

			require.Equal(t, 1, p.Len())
			got := tt.bucket(p)
			require.Len(t, got, 1)
			assert.Equal(t, tt.status, got[0].Status)
			assert.NotNil(t, got[0].Results)
			assert.Len(t, got[0].Results, len(tt.items))
		})
	}
}

func TestComputeSkipsMissingMetadata(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	result := compliance.NewScanResult(
		compliance.ValueCheck("firewall", compliance.StatusFail),
		compliance.ValueCheck("diskEncryption", compliance.StatusPass),
		compliance.ValueCheck("screenLock", compliance.StatusPass),
	)
	ps := practices("firewall", "diskEncryption")
	ps["diskEncryption"] = Practice{Directions: map[string]string{"win32": "bitlocker"}}

	p := Compute(result, ps, "darwin", zap.New(core))

	assert.Equal(t, 1, p.Len())
	assert.Equal(t, []string{"firewall"}, names(p.Critical))
	assert.Equal(t, 1, logs.FilterMessage("no practice for check").Len())
	assert.Equal(t, 1, logs.FilterMessage("no directions for check").Len())
}

func TestComputePreservesResultOrder(t *testing.T) {
	var raw compliance.ScanResult
	require.NoError(t, json.Unmarshal([]byte(`{"status":"FAIL","screenLock":"FAIL","firewall":"FAIL","diskEncryption":"FAIL"}`), &raw))

	p := Compute(raw, practices("diskEncryption", "firewall", "screenLock"), "darwin", zap.NewNop())
	assert.Equal(t, []string{"screenLock", "firewall", "diskEncryption"}, names(p.Critical))
}

func TestBundledInstructions(t *testing.T) {
	in, err := Bundled()
	require.NoError(t, err)
	for _, name := range []string{"osVersion", "diskEncryption", "screenLock", "screenIdle", "firewall",
		"remoteLogin", "automaticUpdates", "antivirus", "applications", "stethoscopeVersion"} {
		p, ok := in.Practices[name]
		require.True(t, ok, name)
		for _, platform := range []string{"darwin", "win32", "linux"} {
			assert.NotEmpty(t, p.Directions[platform], "%s/%s", name, platform)
		}
	}
}

func TestLoadInstructionsFallback(t *testing.T) {
	dir := t.TempDir()
	en := []byte("practices:\n  firewall:\n    title: Firewall\n    directions:\n      linux: ufw enable\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instructions.en.yaml"), en, 0o644))

	in, err := LoadInstructions(dir, "fr")
	require.NoError(t, err)
	assert.Equal(t, "ufw enable", in.Practices["firewall"].Directions["linux"])

	fr := []byte("practices:\n  firewall:\n    title: Pare-feu\n    directions:\n      linux: activez ufw\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instructions.fr.yaml"), fr, 0o644))
	in, err = LoadInstructions(dir, "fr")
	require.NoError(t, err)
	assert.Equal(t, "Pare-feu", in.Practices["firewall"].Title)

	in, err = LoadInstructions(t.TempDir(), "de")
	require.NoError(t, err)
	assert.Contains(t, in.Practices, "antivirus")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "instructions.fr.yaml"), []byte("practices: {}\n"), 0o644))
	_, err = LoadInstructions(dir, "fr")
	assert.Error(t, err)
}
