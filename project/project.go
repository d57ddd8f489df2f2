// Package project is the in-scope stand-in for the explicitly out-of-scope
// GUI project XML format (spec.md §1): a JSON-persisted Project -> Port ->
// Device -> DataView -> Item containment (SPEC_FULL.md SUPPLEMENTED
// FEATURES #4, grounded on the original's core_projectmodel.h), loaded by a
// demo/test harness to build a runtimeport.Runtime. The core runtime
// package never imports this package; persistence stays a boundary concern,
// matching spec.md §6.4.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ItemConfig is the persisted form of a runtime.Item: a named, typed cell at
// a 1-based offset within one of the four memory types (spec.md §3).
type ItemConfig struct {
	Name               string `json:"name"`
	Memory             string `json:"memory"` // "0x", "1x", "3x", "4x"
	Offset             uint16 `json:"offset"` // 1-based, per spec.md §3
	Format             string `json:"format"`
	ByteOrder          string `json:"byte_order,omitempty"`     // "", "big", "little"
	RegisterOrder      string `json:"register_order,omitempty"` // "", "high_first", "low_first"
	VariableLength     int    `json:"variable_length,omitempty"`
	ByteArraySeparator string `json:"byte_array_separator,omitempty"`
	ByteArrayDigital   string `json:"byte_array_digital,omitempty"` // "hex", "dec"
	StringLengthType   string `json:"string_length_type,omitempty"` // "fixed", "prefix_byte", "prefix_word"
	StringEncoding     string `json:"string_encoding,omitempty"`     // "ascii", "utf8", "utf16", "latin1"
	PeriodMS           int64  `json:"period_ms,omitempty"`           // overrides the owning DataView's period when > 0
}

// DataView is a named group of items sharing a display/period context
// (SPEC_FULL.md SUPPLEMENTED FEATURES #4).
type DataView struct {
	Name     string       `json:"name"`
	PeriodMS int64        `json:"period_ms"`
	Items    []ItemConfig `json:"items"`
}

// DeviceConfig is the persisted form of a DeviceRunnable's static
// configuration: its unit id, its byte/register order defaults, and its
// per-function packing caps (spec.md §4.2).
type DeviceConfig struct {
	Name          string `json:"name"`
	Unit          uint8  `json:"unit"`
	ByteOrder     string `json:"byte_order"`     // "big" or "little"; device default, never "Default"
	RegisterOrder string `json:"register_order"` // "high_first" or "low_first"

	MaxReadCoils              uint16 `json:"max_read_coils"`
	MaxReadDiscreteInputs     uint16 `json:"max_read_discrete_inputs"`
	MaxReadInputRegisters     uint16 `json:"max_read_input_registers"`
	MaxReadHoldingRegisters   uint16 `json:"max_read_holding_registers"`
	MaxWriteMultipleCoils     uint16 `json:"max_write_multiple_coils"`
	MaxWriteMultipleRegisters uint16 `json:"max_write_multiple_registers"`

	DataViews []DataView `json:"data_views"`
}

// SerialPortConfig is the persisted form of a serial (RTU) port's physical
// parameters, mirroring transport.NewSerialConfig's arguments.
type SerialPortConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// PortConfig is the persisted form of a PortRunnable: the physical
// transport it owns, the client-level timeout/retry tuning for that
// transport, and the devices sharing it. Zero-valued tuning fields fall
// back to the client library's defaults.
type PortConfig struct {
	Name       string            `json:"name"`
	Transport  string            `json:"transport"` // "tcp", "udp", "rtu_over_tcp", "rtu", "ascii"
	TCPAddress string            `json:"tcp_address,omitempty"`
	Serial     *SerialPortConfig `json:"serial,omitempty"`
	TickMS     int64             `json:"tick_ms,omitempty"`

	TimeoutMS        int64 `json:"timeout_ms,omitempty"`
	RetryCount       int   `json:"retry_count,omitempty"`
	RetryDelayMS     int64 `json:"retry_delay_ms,omitempty"`
	ConnectTimeoutMS int64 `json:"connect_timeout_ms,omitempty"`

	Devices []DeviceConfig `json:"devices"`
}

// Project is the top-level persisted document: a named collection of ports,
// each owning one or more devices.
type Project struct {
	Name  string       `json:"name"`
	Ports []PortConfig `json:"ports"`
}

// LoadProject reads and parses a Project from a JSON file, following the
// teacher's config.LoadConfig convention (os.ReadFile, search-upward when
// path is empty).
func LoadProject(path string) (*Project, error) {
	if path == "" {
		path = findProjectFile()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("project: failed to read %s: %w", path, err)
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("project: failed to parse %s: %w", path, err)
	}
	return &p, nil
}

// SaveProject writes p to path as indented JSON, owner-readable only,
// mirroring the teacher's config.SaveConfig convention.
func (p *Project) SaveProject(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("project: failed to marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("project: failed to write %s: %w", path, err)
	}
	return nil
}

// findProjectFile searches for project.json in the current directory and
// then its ancestors, the same upward search the teacher's config package
// uses for config.json.
func findProjectFile() string {
	if _, err := os.Stat("project.json"); err == nil {
		return "project.json"
	}
	dir, _ := os.Getwd()
	for {
		candidate := filepath.Join(dir, "project.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "project.json"
}
