package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleProject() *Project {
	return &Project{
		Name: "demo",
		Ports: []PortConfig{
			{
				Name:       "port1",
				Transport:  "tcp",
				TCPAddress: "127.0.0.1:5020",
				TickMS:     5,
				TimeoutMS:  500,
				RetryCount: 2,
				Devices: []DeviceConfig{
					{
						Name:                    "plc1",
						Unit:                    1,
						ByteOrder:               "big",
						RegisterOrder:           "high_first",
						MaxReadHoldingRegisters: 120,
						DataViews: []DataView{
							{
								Name:     "view1",
								PeriodMS: 1000,
								Items: []ItemConfig{
									{Name: "temp", Memory: "4x", Offset: 1, Format: "uint16"},
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestSaveLoadProjectRoundTrips(t *testing.T) {
	p := sampleProject()
	path := filepath.Join(t.TempDir(), "project.json")

	require.NoError(t, p.SaveProject(path))

	loaded, err := LoadProject(path)
	require.NoError(t, err)
	require.Equal(t, p, loaded)
}

func TestLoadProjectMissingFileErrors(t *testing.T) {
	_, err := LoadProject(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}

func TestLoadProjectInvalidJSONErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := LoadProject(path)
	require.Error(t, err)
}
