package biophys

import (
	"errors"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ophys.report/internal/fsutil"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "workdir", cfg.Workdir)
	assert.Equal(t, "", cfg.DataDir)
	assert.Equal(t, "param.json", cfg.ModelFile)
	assert.Equal(t, "param_run.json", cfg.RunFile)
	assert.Equal(t, "simulation#run", cfg.Main)
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "BIOPHYS_MODEL_FILE", EnvVar("model_file"))
	assert.Equal(t, "BIOPHYS_WORKDIR", EnvVar("workdir"))
}

func TestConfig_Entrypoint(t *testing.T) {
	tests := []struct {
		main    string
		module  string
		fn      string
		wantErr bool
	}{
		{main: "simulation#run", module: "simulation", fn: "run"},
		{main: "pkg.sim#start", module: "pkg.sim", fn: "start"},
		{main: "simulation", wantErr: true},
		{main: "#run", wantErr: true},
		{main: "simulation#", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.main, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Main = tt.main
			module, fn, err := cfg.Entrypoint()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.module, module)
			assert.Equal(t, tt.fn, fn)
		})
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/run/config.json", []byte(`{"workdir": "out", "model_file": "file:fit.json"}`))

	cfg, err := NewLoader(fsys).LoadConfig("/run/config.json")
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.Workdir)
	assert.Equal(t, "file:fit.json", cfg.ModelFile)
	assert.Equal(t, "param_run.json", cfg.RunFile)
	assert.Equal(t, "simulation#run", cfg.Main)
}

func TestLoadConfig_YAML(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/run/config.yaml", []byte("data_dir: /data\nmain: neuron_sim#go\n"))

	cfg, err := NewLoader(fsys).LoadConfig("/run/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, "neuron_sim#go", cfg.Main)
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := NewLoader(fsutil.NewMemoryFileSystem()).LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_Precedence(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/run/config.json", []byte(`{"workdir": "from-file", "run_file": "from-file.json", "main": "file#main"}`))

	t.Setenv("BIOPHYS_WORKDIR", "from-env")
	t.Setenv("BIOPHYS_MAIN", "env#main")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--main=flag#main"}))

	l := NewLoader(fsys)
	l.Flags = flags
	cfg, err := l.LoadConfig("/run/config.json")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Workdir, "env beats file")
	assert.Equal(t, "from-file.json", cfg.RunFile, "file beats default")
	assert.Equal(t, "flag#main", cfg.Main, "flag beats env")
	assert.Equal(t, "param.json", cfg.ModelFile, "unset flag does not override default")
}

func TestLoadConfig_Errors(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/run/config.ini", []byte("workdir=x"))
	fsys.WriteFile("/run/broken.json", []byte(`{"workdir": `))

	tests := []struct {
		name string
		path string
	}{
		{"unsupported extension", "/run/config.ini"},
		{"missing file", "/run/missing.json"},
		{"malformed json", "/run/broken.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(fsys).LoadConfig(tt.path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_KeepsMainAsWritten(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/cfg/config.json", []byte(`{"main": "run_simulation", "model_file": "m.json"}`))
	fsys.WriteFile("/cfg/m.json", []byte(`{"passive": [{"ra": 138.28}]}`))

	cfg, desc, err := NewLoader(fsys).Load("/cfg/config.json")
	require.NoError(t, err)
	assert.Equal(t, "run_simulation", cfg.Main)
	assert.Len(t, desc.Section("passive"), 1)

	_, _, err = cfg.Entrypoint()
	assert.Error(t, err)
}

func TestLoad_EmptyModelFile(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/cfg/config.json", []byte(`{"model_file": "  "}`))

	cfg, err := NewLoader(fsys).LoadConfig("/cfg/config.json")
	require.NoError(t, err)
	assert.Equal(t, "  ", cfg.ModelFile)

	_, _, err = NewLoader(fsys).Load("/cfg/config.json")
	var refErr *RefError
	require.True(t, errors.As(err, &refErr), "got %v", err)
	assert.Equal(t, "empty reference", refErr.Reason)
}

func TestLoad_ReadsModelFiles(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/run/config.json", []byte(`{"model_file": "file:fit.json, file:extra/run.yaml?section=runs"}`))
	fsys.WriteFile("/run/fit.json", []byte(`{
		"genome": [
			{"section": "soma", "name": "g_pas", "value": 0.0001},
			{"section": "axon", "name": "g_pas", "value": 0.0002}
		],
		"passive": [{"ra": 138.28}]
	}`))
	fsys.WriteFile("/run/extra/run.yaml", []byte("tstop: 3000\ndt: 0.025\n"))

	cfg, desc, err := NewLoader(fsys).Load("/run/config.json")
	require.NoError(t, err)
	assert.Equal(t, "file:fit.json, file:extra/run.yaml?section=runs", cfg.ModelFile)
	assert.Equal(t, []string{"genome", "passive", "runs"}, desc.Sections())

	type gene struct {
		Section string  `json:"section"`
		Name    string  `json:"name"`
		Value   float64 `json:"value"`
	}
	var genome []gene
	require.NoError(t, desc.Unmarshal("genome", &genome))
	assert.Equal(t, []gene{
		{Section: "soma", Name: "g_pas", Value: 0.0001},
		{Section: "axon", Name: "g_pas", Value: 0.0002},
	}, genome)

	var runs []struct {
		Tstop float64 `json:"tstop"`
		Dt    float64 `json:"dt"`
	}
	require.NoError(t, desc.Unmarshal("runs", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 3000.0, runs[0].Tstop)
	assert.Equal(t, 0.025, runs[0].Dt)
}

func TestLoad_MissingModelFile(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/run/config.json", []byte(`{"model_file": "missing.json"}`))

	_, _, err := NewLoader(fsys).Load("/run/config.json")
	assert.Error(t, err)
}

func TestLoad_MalformedReference(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/run/config.json", []byte(`{"model_file": "file:fit.json?section"}`))

	_, _, err := NewLoader(fsys).Load("/run/config.json")
	var refErr *RefError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "file:fit.json?section", refErr.Ref)
}
