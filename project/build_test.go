package project

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modbuscore/mbclient/modbus"
	"github.com/modbuscore/mbclient/pdu"
	"github.com/modbuscore/mbclient/runtime"
	"github.com/modbuscore/mbclient/transport"
)

func TestBuildRejectsUnknownTransport(t *testing.T) {
	p := &Project{
		Ports: []PortConfig{{Name: "p1", Transport: "carrier-pigeon"}},
	}
	_, _, err := Build(p, nil)
	require.Error(t, err)
}

func TestBuildRejectsBadByteOrder(t *testing.T) {
	p := &Project{
		Ports: []PortConfig{{
			Name: "p1", Transport: "tcp", TCPAddress: "127.0.0.1:1",
			Devices: []DeviceConfig{{Name: "d1", ByteOrder: "middle-endian"}},
		}},
	}
	_, _, err := Build(p, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "byte_order")
}

func TestBuildRejectsZeroItemOffset(t *testing.T) {
	p := sampleProject()
	p.Ports[0].Devices[0].DataViews[0].Items[0].Offset = 0
	_, _, err := Build(p, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1-based")
}

func TestBuildTransportSelection(t *testing.T) {
	serial := &SerialPortConfig{Port: "/dev/ttyUSB0", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "none"}
	cases := []struct {
		pc   PortConfig
		want modbus.TransportType
	}{
		{PortConfig{Transport: "tcp", TCPAddress: "127.0.0.1:502"}, modbus.TransportTCP},
		{PortConfig{Transport: "udp", TCPAddress: "127.0.0.1:502"}, modbus.TransportTCP},
		{PortConfig{Transport: "rtu_over_tcp", TCPAddress: "127.0.0.1:502"}, modbus.TransportRTU},
		{PortConfig{Transport: "rtu", Serial: serial}, modbus.TransportRTU},
		{PortConfig{Transport: "ascii", Serial: serial}, modbus.TransportASCII},
	}
	for _, tc := range cases {
		tr, err := buildTransport(tc.pc)
		require.NoError(t, err, tc.pc.Transport)
		require.Equal(t, tc.want, tr.GetTransportType(), tc.pc.Transport)
	}

	_, err := buildTransport(PortConfig{Transport: "rtu"})
	require.Error(t, err, "serial transports need a serial config")
	_, err = buildTransport(PortConfig{Transport: "udp"})
	require.Error(t, err, "udp needs an address")
}

func TestClientConfigForPortTuning(t *testing.T) {
	defaults := clientConfigFor(PortConfig{})
	require.Equal(t, modbus.DefaultClientConfig(), defaults, "zero-valued tuning keeps library defaults")

	cfg := clientConfigFor(PortConfig{
		TimeoutMS:        250,
		RetryCount:       5,
		RetryDelayMS:     20,
		ConnectTimeoutMS: 1500,
	})
	require.Equal(t, 250*time.Millisecond, cfg.Timeout)
	require.Equal(t, 5, cfg.RetryCount)
	require.Equal(t, 20*time.Millisecond, cfg.RetryDelay)
	require.Equal(t, 1500*time.Millisecond, cfg.ConnectTimeout)
}

func TestBuildPopulatesRegistry(t *testing.T) {
	// NewAsyncPort connects eagerly, so the project's TCP port needs a live
	// endpoint even though this test never completes an exchange.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			io.Copy(io.Discard, conn)
		}
	}()

	p := sampleProject()
	p.Ports[0].TCPAddress = ln.Addr().String()
	rt, reg, err := Build(p, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NotNil(t, rt)

	devHandle, ok := reg.Devices["plc1"]
	require.True(t, ok)

	itemHandle, ok := reg.Items["plc1/temp"]
	require.True(t, ok)
	require.NotZero(t, devHandle)
	require.NotZero(t, itemHandle)
}

// fakeHoldingRegisterResponder is a minimal MODBUS-TCP fixture, purpose-built
// for this test: it speaks just enough MBAP framing (reusing the kept
// transport package's own MBAPHeader/pdu types) to answer ReadHoldingRegisters
// from an in-memory register map. It stands in for the server-side register
// emulation spec.md §1 puts out of scope, rather than standing up the
// project's own full Modbus server to serve as a test fixture.
type fakeHoldingRegisterResponder struct {
	holding map[uint16]uint16
}

// serve accepts a single connection on ln and answers requests until the
// connection closes or the test ends.
func (s *fakeHoldingRegisterResponder) serve(t *testing.T, ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	t.Cleanup(func() { conn.Close() })

	for {
		headerBytes := make([]byte, modbus.MBAPHeaderSize)
		if _, err := io.ReadFull(conn, headerBytes); err != nil {
			return
		}
		header, err := transport.DecodeMBAP(headerBytes)
		if err != nil {
			return
		}
		reqBytes := make([]byte, header.Length-1)
		if _, err := io.ReadFull(conn, reqBytes); err != nil {
			return
		}
		req, err := pdu.ParsePDU(reqBytes)
		if err != nil {
			return
		}

		respPDU := s.respond(req)
		respBytes := respPDU.Bytes()
		mbapResp := &transport.MBAPHeader{
			TransactionID: header.TransactionID,
			ProtocolID:    header.ProtocolID,
			Length:        uint16(1 + len(respBytes)),
			UnitID:        header.UnitID,
		}
		if _, err := conn.Write(mbapResp.EncodeMBAP()); err != nil {
			return
		}
		if _, err := conn.Write(respBytes); err != nil {
			return
		}
	}
}

func (s *fakeHoldingRegisterResponder) respond(req *pdu.PDU) *pdu.PDU {
	if req.FunctionCode != modbus.FuncCodeReadHoldingRegisters || len(req.Data) != 4 {
		return pdu.CreateExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	data := make([]byte, 1+int(quantity)*2)
	data[0] = byte(quantity * 2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(data[1+i*2:], s.holding[address+uint16(i)])
	}
	return pdu.NewPDU(modbus.FuncCodeReadHoldingRegisters, data)
}

// TestBuildEndToEndOverFakeTCPResponder wires project.Build's output — a
// real AsyncPort over a real transport.TCPTransport — against the small fake
// responder above, demonstrating the runtime stack (Build, AsyncPort,
// DeviceRunnable, PortRunnable) drives a real Modbus TCP wire exchange end
// to end.
func TestBuildEndToEndOverFakeTCPResponder(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	addr := ln.Addr().String()

	responder := &fakeHoldingRegisterResponder{holding: map[uint16]uint16{0: 4242}}
	go responder.serve(t, ln)

	p := &Project{
		Name: "e2e",
		Ports: []PortConfig{
			{
				Name:       "port1",
				Transport:  "tcp",
				TCPAddress: addr,
				TickMS:     2,
				Devices: []DeviceConfig{
					{
						Name:                    "plc1",
						Unit:                    1,
						ByteOrder:               "big",
						RegisterOrder:           "high_first",
						MaxReadHoldingRegisters: 16,
						DataViews: []DataView{
							{
								Name:     "view1",
								PeriodMS: 10,
								Items: []ItemConfig{
									{Name: "holding0", Memory: "4x", Offset: 1, Format: "uint16"},
								},
							},
						},
					},
				},
			},
		},
	}

	rt, reg, err := Build(p, zap.NewNop().Sugar())
	require.NoError(t, err)

	itemHandle := reg.Items["plc1/holding0"]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	defer rt.Stop()

	type result struct {
		data   []byte
		status runtime.StatusCode
	}
	done := make(chan result, 1)
	_, err = rt.Subscribe(itemHandle, func(data []byte, status runtime.StatusCode, ts time.Time) {
		select {
		case done <- result{data: data, status: status}:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case got := <-done:
		require.True(t, got.status.IsGood(), "status: %v", got.status)
		require.Equal(t, runtime.EncodeUint16(4242), got.data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the read to complete over the fake TCP responder")
	}
}
